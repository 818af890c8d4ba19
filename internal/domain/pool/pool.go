package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/substratehq/substrate/internal/infrastructure/monitoring"
	"github.com/substratehq/substrate/internal/shared/errdefs"
)

// Defaults for Config fields left at zero.
const (
	DefaultMaxPerHost     = 10
	DefaultIdleTimeout    = 300 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

var errPoolClosed = errors.New("pool is shut down")

// Config tunes pool behavior.
type Config struct {
	// MaxPerHost bounds live connections per HostKey.
	MaxPerHost int

	// IdleTimeout is how long an unused connection survives. Expired
	// connections are evicted lazily during acquisition.
	IdleTimeout time.Duration

	// ConnectTimeout bounds a single dial attempt.
	ConnectTimeout time.Duration
}

// DefaultConfig returns the standard pool tuning.
func DefaultConfig() Config {
	return Config{
		MaxPerHost:     DefaultMaxPerHost,
		IdleTimeout:    DefaultIdleTimeout,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

func (c Config) normalize() Config {
	if c.MaxPerHost <= 0 {
		c.MaxPerHost = DefaultMaxPerHost
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	return c
}

// entry is one pool slot. conn is nil while the dial is in flight; such
// placeholders count against MaxPerHost so concurrent acquirers cannot
// overshoot the bound.
type entry struct {
	id       string
	conn     Conn
	lastUsed time.Time
	inUse    bool
}

// Pool manages reusable remote connections bucketed by HostKey.
//
// The mutex guards only the bucket tables. Dials, command execution, and
// connection teardown all happen outside the lock.
type Pool struct {
	cfg     Config
	dialer  Dialer
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	buckets map[HostKey][]*entry
	waiters map[HostKey][]chan struct{}
	dials   uint64
	closed  bool
}

// New creates a pool using the given dialer for physical connections.
func New(cfg Config, dialer Dialer, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:     cfg.normalize(),
		dialer:  dialer,
		logger:  logger,
		buckets: make(map[HostKey][]*entry),
		waiters: make(map[HostKey][]chan struct{}),
	}
}

// WithMetrics adds metrics tracking to the pool.
func (p *Pool) WithMetrics(metrics *monitoring.Metrics) *Pool {
	p.metrics = metrics
	return p
}

// Acquire returns a lease on a connection for key, reusing an idle one
// when possible, dialing when the bucket has room, and otherwise waiting
// until a release or ctx expiry. The caller must Release the lease.
func (p *Pool) Acquire(ctx context.Context, key HostKey, cred Credential) (*Lease, error) {
	start := time.Now()
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errdefs.ConnectFailed(key.String(), errPoolClosed)
		}

		stale := p.evictLocked(key)

		if e := p.idleLocked(key); e != nil {
			e.inUse = true
			e.lastUsed = time.Now()
			idle, inUse := p.countLocked(key)
			p.mu.Unlock()
			closeAll(stale)
			p.observe(key, idle, inUse)
			return &Lease{pool: p, key: key, entry: e}, nil
		}

		if len(p.buckets[key]) < p.cfg.MaxPerHost {
			e := &entry{id: uuid.New().String(), inUse: true, lastUsed: time.Now()}
			p.buckets[key] = append(p.buckets[key], e)
			p.mu.Unlock()
			closeAll(stale)
			return p.dial(ctx, key, cred, e)
		}

		ready := make(chan struct{}, 1)
		p.waiters[key] = append(p.waiters[key], ready)
		p.mu.Unlock()
		closeAll(stale)

		select {
		case <-ready:
			// A slot may have opened; rescan.
		case <-ctx.Done():
			p.abandonWait(key, ready)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, errdefs.WaitTimeout(fmt.Sprintf("connection slot for %s", key), time.Since(start))
			}
			return nil, ctx.Err()
		}
	}
}

// dial fills the reserved entry e with a live connection. On failure the
// entry is removed so the attempt never occupies a slot, and one waiter
// is woken to claim the freed capacity.
func (p *Pool) dial(ctx context.Context, key HostKey, cred Credential, e *entry) (*Lease, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	conn, err := p.dialer.Dial(dialCtx, key, cred)

	p.mu.Lock()
	p.dials++
	if err != nil {
		p.removeLocked(key, e)
		p.signalLocked(key)
		p.mu.Unlock()
		return nil, p.classifyDialError(key, dialCtx, err)
	}
	e.conn = conn
	e.lastUsed = time.Now()
	idle, inUse := p.countLocked(key)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordPoolDial(key.String())
	}
	p.observe(key, idle, inUse)
	p.logger.Debug("dialed new connection",
		zap.String("key", key.String()),
		zap.String("conn_id", e.id),
	)
	return &Lease{pool: p, key: key, entry: e}, nil
}

func (p *Pool) classifyDialError(key HostKey, dialCtx context.Context, err error) error {
	if _, ok := errdefs.As(err); ok {
		return err
	}
	if errors.Is(dialCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return errdefs.ConnectTimeout(key.Addr(), p.cfg.ConnectTimeout)
	}
	return errdefs.ConnectFailed(key.String(), err)
}

// release returns an entry to its bucket. Unhealthy connections are
// closed and dropped instead of being pooled.
func (p *Pool) release(key HostKey, e *entry) {
	healthy := e.conn != nil && e.conn.Healthy()

	p.mu.Lock()
	if p.closed || !healthy {
		p.removeLocked(key, e)
	} else {
		e.inUse = false
		e.lastUsed = time.Now()
	}
	p.signalLocked(key)
	idle, inUse := p.countLocked(key)
	p.mu.Unlock()

	if !healthy && e.conn != nil {
		e.conn.Close()
		p.logger.Debug("dropped unhealthy connection",
			zap.String("key", key.String()),
			zap.String("conn_id", e.id),
		)
	}
	p.observe(key, idle, inUse)
}

// evictLocked removes idle entries older than IdleTimeout and returns
// their connections for closing outside the lock. Age is measured on the
// monotonic clock carried by time.Time.
func (p *Pool) evictLocked(key HostKey) []Conn {
	bucket := p.buckets[key]
	if len(bucket) == 0 {
		return nil
	}
	now := time.Now()
	var stale []Conn
	kept := bucket[:0]
	for _, e := range bucket {
		if !e.inUse && e.conn != nil && now.Sub(e.lastUsed) > p.cfg.IdleTimeout {
			stale = append(stale, e.conn)
			continue
		}
		kept = append(kept, e)
	}
	if len(stale) > 0 {
		p.buckets[key] = kept
		p.logger.Debug("evicted idle connections",
			zap.String("key", key.String()),
			zap.Int("count", len(stale)),
		)
	}
	return stale
}

func (p *Pool) idleLocked(key HostKey) *entry {
	for _, e := range p.buckets[key] {
		if !e.inUse && e.conn != nil {
			return e
		}
	}
	return nil
}

func (p *Pool) removeLocked(key HostKey, target *entry) {
	bucket := p.buckets[key]
	for i, e := range bucket {
		if e == target {
			p.buckets[key] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// signalLocked wakes at most one waiter for key.
func (p *Pool) signalLocked(key HostKey) {
	q := p.waiters[key]
	if len(q) == 0 {
		return
	}
	ready := q[0]
	p.waiters[key] = q[1:]
	select {
	case ready <- struct{}{}:
	default:
	}
}

// abandonWait withdraws a waiter after ctx expiry. If the waiter was
// already signalled, the wakeup is passed on so it is not lost.
func (p *Pool) abandonWait(key HostKey, ready chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.waiters[key]
	for i, ch := range q {
		if ch == ready {
			p.waiters[key] = append(q[:i], q[i+1:]...)
			return
		}
	}
	select {
	case <-ready:
		p.signalLocked(key)
	default:
	}
}

func (p *Pool) countLocked(key HostKey) (idle, inUse int) {
	for _, e := range p.buckets[key] {
		if e.conn == nil {
			continue
		}
		if e.inUse {
			inUse++
		} else {
			idle++
		}
	}
	return idle, inUse
}

func (p *Pool) observe(key HostKey, idle, inUse int) {
	if p.metrics == nil {
		return
	}
	p.metrics.SetPoolConnections(key.String(), idle, inUse)
}

func closeAll(conns []Conn) {
	for _, c := range conns {
		c.Close()
	}
}

// HostStats describes one bucket.
type HostStats struct {
	Key   string `json:"key"`
	Idle  int    `json:"idle"`
	InUse int    `json:"in_use"`
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Dials uint64      `json:"dials"`
	Hosts []HostStats `json:"hosts"`
}

// Stats reports the total physical dial count and per-host occupancy,
// sorted by key for stable output.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Dials: p.dials, Hosts: make([]HostStats, 0, len(p.buckets))}
	for key := range p.buckets {
		idle, inUse := p.countLocked(key)
		if idle == 0 && inUse == 0 {
			continue
		}
		s.Hosts = append(s.Hosts, HostStats{Key: key.String(), Idle: idle, InUse: inUse})
	}
	sort.Slice(s.Hosts, func(i, j int) bool {
		return s.Hosts[i].Key < s.Hosts[j].Key
	})
	return s
}

// Shutdown closes every connection and rejects further acquisitions.
// Waiters are woken so they can observe the closed state. Returns the
// first close error encountered, if any.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	var conns []Conn
	count := 0
	for _, bucket := range p.buckets {
		for _, e := range bucket {
			if e.conn != nil {
				conns = append(conns, e.conn)
			}
			count++
		}
	}
	p.buckets = make(map[HostKey][]*entry)

	for key, q := range p.waiters {
		for _, ready := range q {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
		delete(p.waiters, key)
	}
	p.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if count > 0 {
		p.logger.Info("pool shut down", zap.Int("connections", count))
	}
	return firstErr
}
