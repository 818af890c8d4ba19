package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/substratehq/substrate/internal/credentials"
	"github.com/substratehq/substrate/internal/domain/output"
	"github.com/substratehq/substrate/internal/domain/pool"
	"github.com/substratehq/substrate/internal/infrastructure/monitoring"
	"github.com/substratehq/substrate/internal/infrastructure/resilience"
	"github.com/substratehq/substrate/internal/infrastructure/tracing"
	"github.com/substratehq/substrate/internal/preview"
	"github.com/substratehq/substrate/internal/protocol"
	"github.com/substratehq/substrate/internal/shared/errdefs"
	"github.com/substratehq/substrate/internal/shared/id"
)

// DefaultTimeout bounds an execution attempt when the request carries
// no timeout of its own.
const DefaultTimeout = 30 * time.Second

// Config carries executor tunables.
type Config struct {
	// DefaultTimeout bounds attempts whose request has no timeout_ms.
	DefaultTimeout time.Duration

	// MaxOutputBytes caps captured output per execution. Zero means the
	// accumulator default.
	MaxOutputBytes int

	// Shell overrides shell resolution for local scripts.
	Shell string
}

func (c Config) normalize() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = output.DefaultMaxSize
	}
	return c
}

// PreviewPlanner plans a command without executing it.
type PreviewPlanner interface {
	Plan(ctx context.Context, cmd protocol.Command) (*preview.Plan, error)
}

// Executor runs protocol requests across the three execution modes.
// All collaborators are injected; optional ones are nil-safe.
type Executor struct {
	cfg      Config
	pool     *pool.Pool
	creds    credentials.Source
	breakers *resilience.Registry
	planner  PreviewPlanner
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	logger   *zap.Logger
}

// New creates an executor. The pool, credential source, and breaker
// registry may be nil when ssh mode is not served.
func New(cfg Config, p *pool.Pool, creds credentials.Source, breakers *resilience.Registry, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:      cfg.normalize(),
		pool:     p,
		creds:    creds,
		breakers: breakers,
		logger:   logger,
	}
}

// WithPreview wires the preview runtime client.
func (e *Executor) WithPreview(planner PreviewPlanner) *Executor {
	e.planner = planner
	return e
}

// WithMetrics enables execution metrics collection.
func (e *Executor) WithMetrics(m *monitoring.Metrics) *Executor {
	e.metrics = m
	return e
}

// WithTracer enables span emission per execution.
func (e *Executor) WithTracer(t *tracing.Tracer) *Executor {
	e.tracer = t
	return e
}

// Execute validates and runs one request, returning the response
// envelope. Transient failures are retried per the request's retry
// policy; everything else fails on the first attempt.
func (e *Executor) Execute(ctx context.Context, req *protocol.Request) *protocol.Response {
	start := time.Now()
	execID := id.NewExecutionID()

	logger := e.logger.With(
		zap.String("execution_id", execID.String()),
		zap.String("command", req.Command.Type),
		zap.String("mode", req.Execution.Mode),
	)

	var span *tracing.Span
	if e.tracer != nil {
		span, ctx = e.tracer.StartSpan(ctx, "execute")
		span.SetTag("execution_id", execID.String())
		span.SetTag("command", req.Command.Type)
		span.SetTag("mode", req.Execution.Mode)
		defer func() {
			span.Finish()
			e.tracer.Submit(span)
		}()
	}

	if err := req.Validate(); err != nil {
		logger.Warn("request rejected", zap.Error(err))
		if span != nil {
			span.SetError(err)
		}
		return protocol.Failure(err, e.meta(start, 0))
	}

	timeout := req.Execution.Timeout()
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	maxAttempts := req.Execution.Retry.Attempts()
	attempts := 0
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		data, err := e.dispatch(attemptCtx, req)
		cancel()

		if err == nil {
			logger.Info("execution succeeded",
				zap.Int("attempts", attempt),
				zap.Duration("duration", time.Since(start)),
			)
			e.record(req, "success", start)
			return protocol.Success(data, e.meta(start, attempt))
		}

		lastErr = err
		if !errdefs.IsTransient(err) || attempt == maxAttempts {
			break
		}

		backoff := req.Execution.Retry.Backoff(attempt)
		logger.Warn("attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)
		if span != nil {
			span.Log("retrying", map[string]interface{}{
				"attempt": attempt,
				"backoff": backoff.String(),
				"error":   err.Error(),
			})
		}
		if e.metrics != nil {
			e.metrics.IncRetry(req.Execution.Mode)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			logger.Warn("retry abandoned, caller gone", zap.Error(ctx.Err()))
			attempt = maxAttempts
		}
	}

	logger.Error("execution failed",
		zap.Error(lastErr),
		zap.Int("attempts", attempts),
		zap.Duration("duration", time.Since(start)),
	)
	if span != nil {
		span.SetError(lastErr)
	}
	if e.metrics != nil && errdefs.CodeOf(lastErr) == errdefs.CodeOutputTooLarge {
		e.metrics.IncOutputRejections()
	}
	e.record(req, "error", start)
	return protocol.Failure(lastErr, e.meta(start, attempts))
}

// dispatch routes one attempt to its mode runner.
func (e *Executor) dispatch(ctx context.Context, req *protocol.Request) (map[string]interface{}, error) {
	switch req.Execution.Mode {
	case protocol.ModeLocal:
		return e.executeLocal(ctx, req.Command)
	case protocol.ModeSSH:
		return e.executeRemote(ctx, req.Execution, req.Command)
	case protocol.ModePreview:
		return e.executePreview(ctx, req.Command)
	}
	return nil, errdefs.InvalidRequest("execution.mode", "unknown mode "+req.Execution.Mode)
}

func (e *Executor) meta(start time.Time, attempts int) protocol.Metadata {
	return protocol.Metadata{
		DurationMS: time.Since(start).Milliseconds(),
		Attempts:   attempts,
		Cached:     false,
	}
}

func (e *Executor) record(req *protocol.Request, status string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordExecution(req.Execution.Mode, req.Command.Type, status, time.Since(start))
}
