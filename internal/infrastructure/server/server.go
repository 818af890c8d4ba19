package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	api "github.com/substratehq/substrate/internal/api/http"
	"github.com/substratehq/substrate/internal/api/middleware"
	"github.com/substratehq/substrate/internal/credentials"
	"github.com/substratehq/substrate/internal/domain/executor"
	"github.com/substratehq/substrate/internal/domain/pool"
	"github.com/substratehq/substrate/internal/domain/terminal"
	"github.com/substratehq/substrate/internal/infrastructure/config"
	"github.com/substratehq/substrate/internal/infrastructure/logging"
	"github.com/substratehq/substrate/internal/infrastructure/monitoring"
	"github.com/substratehq/substrate/internal/infrastructure/resilience"
	"github.com/substratehq/substrate/internal/infrastructure/tracing"
	"github.com/substratehq/substrate/internal/preview"
	"github.com/substratehq/substrate/internal/ws"
)

// Server wraps the HTTP server and its wired subsystems
type Server struct {
	router   *gin.Engine
	http     *http.Server
	sessions *terminal.Manager
	pool     *pool.Pool
	tracer   *tracing.Tracer
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// New assembles a fully wired server from configuration
func New(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	logger.Info("Initializing substrate server",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
	)

	// Metrics first; every other component attaches to it
	metrics := monitoring.NewMetrics()

	// Distributed tracing
	tracer := tracing.New("substrate", logger.Logger)

	// Terminal sessions
	sessions := terminal.NewManager(terminal.Config{
		MaxSessions: cfg.Session.MaxSessions,
		BufferSize:  cfg.Session.BufferSize,
		DefaultRows: cfg.Session.DefaultRows,
		DefaultCols: cfg.Session.DefaultCols,
	}, logger.Logger).WithMetrics(metrics)

	// Remote connection pool
	sshPool := pool.New(pool.Config{
		MaxPerHost:     cfg.Pool.MaxPerHost,
		IdleTimeout:    cfg.Pool.IdleTimeout,
		ConnectTimeout: cfg.Pool.ConnectTimeout,
	}, pool.NewSSHDialer(), logger.Logger).WithMetrics(metrics)

	// Per-host circuit breakers; transitions fan into logs and metrics
	breakers := resilience.NewRegistry(resilience.Settings{
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		SuccessThreshold: uint32(cfg.Breaker.SuccessThreshold),
		Timeout:          cfg.Breaker.Timeout,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetBreakerState(name, int(to))
			metrics.IncBreakerTransition(name, to.String())
		},
	})

	// Credentials for remote hosts
	var creds credentials.Source
	if cfg.Creds.Path != "" {
		fileSource, err := credentials.LoadFile(cfg.Creds.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load credentials: %w", err)
		}
		creds = fileSource
		logger.Info("Loaded credential inventory",
			zap.String("path", cfg.Creds.Path),
			zap.Int("rules", fileSource.Len()),
		)
	} else {
		creds = credentials.NewStaticSource()
		logger.Warn("No credentials file configured; remote lookups will fail until one is provided")
	}

	// Command executor
	exec := executor.New(executor.Config{
		MaxOutputBytes: cfg.Output.MaxBytes,
		Shell:          cfg.Session.Shell,
	}, sshPool, creds, breakers, logger.Logger).
		WithMetrics(metrics).
		WithTracer(tracer)

	if cfg.Preview.Enabled {
		planner := preview.NewClient(preview.Config{
			BaseURL:    cfg.Preview.URL,
			Timeout:    cfg.Preview.Timeout,
			MaxRetries: cfg.Preview.Retries,
		})
		exec = exec.WithPreview(planner)
		logger.Info("Preview planner enabled", zap.String("url", cfg.Preview.URL))
	}

	// Router
	if cfg.Logging.Format != "console" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	// Handlers
	handlers := api.NewHandlers(exec, sessions, logger.Logger)
	wsHandler := ws.NewHandler(sessions, logger.Logger).WithMetrics(metrics)
	stats := api.NewStatsAggregator(metrics, sshPool, breakers, sessions)

	// Routes
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.POST("/execute", handlers.Execute)

	// Session endpoints
	router.POST("/sessions", handlers.SpawnSession)
	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/:id", handlers.GetSession)
	router.POST("/sessions/:id/input", handlers.SessionInput)
	router.GET("/sessions/:id/output", handlers.SessionOutput)
	router.POST("/sessions/:id/resize", handlers.ResizeSession)
	router.DELETE("/sessions/:id", handlers.CloseSession)

	// WebSocket
	router.GET("/sessions/:id/stream", wsHandler.HandleSession)

	// Observability
	router.GET("/stats", stats.Overview)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		metrics.Registry(),
		promhttp.HandlerOpts{},
	)))

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		http: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		sessions: sessions,
		pool:     sshPool,
		tracer:   tracer,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

// Router exposes the assembled engine for in-process tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server. Accepted connections are capped at
// Server.MaxConns; further peers queue in the listener backlog.
func (s *Server) Run() error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if s.config.Server.MaxConns > 0 {
		listener = netutil.LimitListener(listener, s.config.Server.MaxConns)
	}

	s.logger.Info("Starting HTTP server",
		zap.String("addr", addr),
		zap.Int("max_conns", s.config.Server.MaxConns),
	)

	if err := s.http.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close gracefully shuts down the server and every subsystem behind it.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	s.sessions.Shutdown()
	s.logger.Info("Terminal sessions closed")

	if err := s.pool.Shutdown(); err != nil {
		s.logger.Warn("Pool shutdown reported errors", zap.Error(err))
	} else {
		s.logger.Info("Connection pool drained")
	}

	s.tracer.Close()

	// Sync logger before exit
	s.logger.Sync()

	return nil
}
