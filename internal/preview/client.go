package preview

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/substratehq/substrate/internal/infrastructure/resilience"
	"github.com/substratehq/substrate/internal/protocol"
	"github.com/substratehq/substrate/internal/shared/errdefs"
	"github.com/substratehq/substrate/internal/shared/id"
)

// Defaults for Config fields left at zero.
const (
	DefaultTimeout = 30 * time.Second
	breakerName    = "preview-runtime"
)

// Config tunes the preview runtime client.
type Config struct {
	// BaseURL is the preview runtime endpoint, e.g. http://127.0.0.1:7373.
	BaseURL string

	// Timeout bounds one plan request.
	Timeout time.Duration

	// RateLimit caps requests per second. Zero means unlimited.
	RateLimit float64

	// MaxRetries is the transport-level retry count for a single plan.
	MaxRetries int
}

// Effect is one would-be consequence reported by the preview runtime.
type Effect struct {
	Kind   string `json:"kind"`
	Path   string `json:"path,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Plan is the preview runtime's analysis of a command. Executed is always
// false: planning never runs anything.
type Plan struct {
	Effects  []Effect `json:"effects"`
	Summary  string   `json:"summary,omitempty"`
	Executed bool     `json:"executed"`
}

type planWire struct {
	Effects []Effect `json:"effects"`
	Summary string   `json:"summary"`
}

// Client wraps resty with rate limiting and circuit breaker protection
// for calls to the preview runtime.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	timeout time.Duration
}

// NewClient creates a production-ready preview runtime client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	// Create underlying retryable client
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = 250 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil // Disable logging

	restyClient := resty.New()
	restyClient.
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("User-Agent", "substrate-preview/1.0")

	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1)
	}

	return &Client{
		resty:   restyClient,
		limiter: limiter,
		timeout: cfg.Timeout,
		breaker: resilience.New(breakerName, resilience.Settings{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		}),
	}
}

// Plan submits a command to the preview runtime and returns its would-be
// effects. The runtime analyzes without executing.
func (c *Client) Plan(ctx context.Context, cmd protocol.Command) (*Plan, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body := map[string]interface{}{"command": cmd}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.resty.R().
			SetContext(ctx).
			SetHeader("X-Request-ID", id.NewRequestID().String()).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post("/v1/plan")
		if err != nil {
			return nil, classifyTransport(err, c.timeout)
		}
		if resp.StatusCode() >= 500 {
			return nil, errdefs.ConnectFailed(breakerName, fmt.Errorf("status %d: %s", resp.StatusCode(), snippet(resp.Body())))
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	resp := res.(*resty.Response)
	if resp.IsError() {
		return nil, errdefs.ExecFailed(-1, fmt.Sprintf("preview runtime rejected request: status %d: %s", resp.StatusCode(), snippet(resp.Body())))
	}

	var wire planWire
	if err := sonic.Unmarshal(resp.Body(), &wire); err != nil {
		return nil, errdefs.ExecFailed(-1, fmt.Sprintf("malformed preview response: %v", err))
	}
	return &Plan{Effects: wire.Effects, Summary: wire.Summary, Executed: false}, nil
}

// Ping checks the preview runtime's health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.resty.R().SetContext(ctx).Get("/healthz")
	if err != nil {
		return classifyTransport(err, c.timeout)
	}
	if resp.IsError() {
		return errdefs.ConnectFailed(breakerName, fmt.Errorf("status %d", resp.StatusCode()))
	}
	return nil
}

// BreakerSnapshot exposes breaker state for the stats endpoint.
func (c *Client) BreakerSnapshot() resilience.Snapshot {
	return c.breaker.Snapshot()
}

func classifyTransport(err error, timeout time.Duration) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return errdefs.WaitTimeout(breakerName, timeout)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return errdefs.WaitTimeout(breakerName, timeout)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errdefs.WaitTimeout(breakerName, timeout)
	}
	return errdefs.ConnectFailed(breakerName, err)
}

func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
