package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/substratehq/substrate/internal/domain/pool"
	"github.com/substratehq/substrate/internal/domain/terminal"
	"github.com/substratehq/substrate/internal/infrastructure/monitoring"
	"github.com/substratehq/substrate/internal/infrastructure/resilience"
)

// StatsAggregator assembles point-in-time views from every subsystem
// into one JSON document for operators and dashboards.
type StatsAggregator struct {
	metrics  *monitoring.Metrics
	pool     *pool.Pool
	breakers *resilience.Registry
	sessions *terminal.Manager
}

// NewStatsAggregator creates a stats aggregator over the given subsystems
func NewStatsAggregator(
	metrics *monitoring.Metrics,
	p *pool.Pool,
	breakers *resilience.Registry,
	sessions *terminal.Manager,
) *StatsAggregator {
	return &StatsAggregator{
		metrics:  metrics,
		pool:     p,
		breakers: breakers,
		sessions: sessions,
	}
}

// StatsSnapshot is the /stats response body
type StatsSnapshot struct {
	Timestamp time.Time             `json:"timestamp"`
	Summary   StatsSummary          `json:"summary"`
	Pool      pool.Stats            `json:"pool"`
	Breakers  []resilience.Snapshot `json:"breakers"`
	Sessions  SessionStats          `json:"sessions"`
}

// StatsSummary provides high-level counters
type StatsSummary struct {
	TotalRequests    int64   `json:"total_requests"`
	TotalErrors      int64   `json:"total_errors"`
	TotalExecutions  int64   `json:"total_executions"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
	ErrorRate        float64 `json:"error_rate"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// SessionStats summarizes the terminal manager
type SessionStats struct {
	Active int `json:"active"`
}

// Overview returns aggregated statistics from all subsystems
func (sa *StatsAggregator) Overview(c *gin.Context) {
	snap := sa.metrics.Snapshot()

	var errorRate float64
	if snap.TotalRequests > 0 {
		errorRate = float64(snap.TotalErrors) / float64(snap.TotalRequests)
	}

	out := StatsSnapshot{
		Timestamp: time.Now().UTC(),
		Summary: StatsSummary{
			TotalRequests:    snap.TotalRequests,
			TotalErrors:      snap.TotalErrors,
			TotalExecutions:  snap.TotalExecutions,
			AverageLatencyMs: sa.metrics.AverageRequestSeconds() * 1000,
			ErrorRate:        errorRate,
			UptimeSeconds:    sa.metrics.UptimeSeconds(),
		},
		Breakers: []resilience.Snapshot{},
	}

	if sa.pool != nil {
		out.Pool = sa.pool.Stats()
	}
	if sa.breakers != nil {
		if snaps := sa.breakers.Snapshots(); snaps != nil {
			out.Breakers = snaps
		}
	}
	if sa.sessions != nil {
		out.Sessions = SessionStats{Active: len(sa.sessions.List())}
	}

	c.JSON(http.StatusOK, out)
}
