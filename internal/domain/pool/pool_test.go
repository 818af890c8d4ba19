package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substratehq/substrate/internal/shared/errdefs"
)

type fakeConn struct {
	mu      sync.Mutex
	healthy bool
	closed  bool
	runs    int
	runFunc func(ctx context.Context, command string, opts ExecOptions) (*ExecResult, error)
}

func (c *fakeConn) Run(ctx context.Context, command string, opts ExecOptions) (*ExecResult, error) {
	c.mu.Lock()
	c.runs++
	fn := c.runFunc
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, command, opts)
	}
	return &ExecResult{Stdout: []byte("ok"), ExitCode: 0}, nil
}

func (c *fakeConn) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) setHealthy(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = v
}

func (c *fakeConn) setRunFunc(fn func(ctx context.Context, command string, opts ExecOptions) (*ExecResult, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runFunc = fn
}

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	fail  error
	delay time.Duration
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, key HostKey, cred Credential) (Conn, error) {
	d.mu.Lock()
	d.dials++
	fail := d.fail
	delay := d.delay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if fail != nil {
		return nil, fail
	}

	c := &fakeConn{healthy: true}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

var (
	testKey  = HostKey{Host: "db-1", Port: 22, User: "deploy"}
	testCred = Credential{Password: "s3cret"}
)

func TestAcquireReusesIdleConnection(t *testing.T) {
	d := &fakeDialer{}
	p := New(DefaultConfig(), d, nil)
	defer p.Shutdown()

	for i := 0; i < 5; i++ {
		lease, err := p.Acquire(context.Background(), testKey, testCred)
		require.NoError(t, err)

		res, err := lease.Exec(context.Background(), "uptime", ExecOptions{})
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)

		lease.Release()
	}

	assert.Equal(t, 1, d.dialCount(), "sequential use of one key should dial once")

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Dials)
	require.Len(t, stats.Hosts, 1)
	assert.Equal(t, "deploy@db-1:22", stats.Hosts[0].Key)
	assert.Equal(t, 1, stats.Hosts[0].Idle)
	assert.Equal(t, 0, stats.Hosts[0].InUse)
}

func TestDistinctKeysUseSeparateBuckets(t *testing.T) {
	d := &fakeDialer{}
	p := New(DefaultConfig(), d, nil)
	defer p.Shutdown()

	other := HostKey{Host: "db-1", Port: 22, User: "audit"}

	l1, err := p.Acquire(context.Background(), testKey, testCred)
	require.NoError(t, err)
	l2, err := p.Acquire(context.Background(), other, testCred)
	require.NoError(t, err)

	assert.Equal(t, 2, d.dialCount(), "different users must not share connections")

	l1.Release()
	l2.Release()

	stats := p.Stats()
	require.Len(t, stats.Hosts, 2)
	assert.Equal(t, "audit@db-1:22", stats.Hosts[0].Key)
	assert.Equal(t, "deploy@db-1:22", stats.Hosts[1].Key)
}

func TestPerHostBoundHolds(t *testing.T) {
	d := &fakeDialer{}
	p := New(Config{MaxPerHost: 3}, d, nil)
	defer p.Shutdown()

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			lease, err := p.Acquire(ctx, testKey, testCred)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			cur := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			lease.Release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3), "held connections must not exceed the bound")
	assert.LessOrEqual(t, d.dialCount(), 3, "dials must not exceed the bound")
}

func TestWaiterReusesReleasedConnection(t *testing.T) {
	d := &fakeDialer{}
	p := New(Config{MaxPerHost: 1}, d, nil)
	defer p.Shutdown()

	l1, err := p.Acquire(context.Background(), testKey, testCred)
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		l2, err := p.Acquire(ctx, testKey, testCred)
		if err == nil {
			l2.Release()
		}
		got <- err
	}()

	time.Sleep(50 * time.Millisecond)
	l1.Release()

	require.NoError(t, <-got)
	assert.Equal(t, 1, d.dialCount(), "waiter should reuse the released connection")
}

func TestAcquireWaitTimesOut(t *testing.T) {
	d := &fakeDialer{}
	p := New(Config{MaxPerHost: 1}, d, nil)
	defer p.Shutdown()

	l1, err := p.Acquire(context.Background(), testKey, testCred)
	require.NoError(t, err)
	defer l1.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx, testKey, testCred)
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeTimeout, errdefs.CodeOf(err))
}

func TestConnectFailureFreesSlot(t *testing.T) {
	d := &fakeDialer{fail: errors.New("connection refused")}
	p := New(Config{MaxPerHost: 1}, d, nil)
	defer p.Shutdown()

	_, err := p.Acquire(context.Background(), testKey, testCred)
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeConnectFailed, errdefs.CodeOf(err))

	d.setFail(nil)

	lease, err := p.Acquire(context.Background(), testKey, testCred)
	require.NoError(t, err, "a failed dial must not occupy the only slot")
	lease.Release()

	assert.Equal(t, 2, d.dialCount())
}

func TestSlowDialReportsConnectionTimeout(t *testing.T) {
	d := &fakeDialer{delay: 500 * time.Millisecond}
	p := New(Config{MaxPerHost: 1, ConnectTimeout: 40 * time.Millisecond}, d, nil)
	defer p.Shutdown()

	_, err := p.Acquire(context.Background(), testKey, testCred)
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeConnectionTimeout, errdefs.CodeOf(err))

	e, ok := errdefs.As(err)
	require.True(t, ok)
	assert.Equal(t, int64(40), e.Details["timeout_ms"])
}

func TestIdleConnectionsEvictLazily(t *testing.T) {
	d := &fakeDialer{}
	p := New(Config{IdleTimeout: 30 * time.Millisecond}, d, nil)
	defer p.Shutdown()

	lease, err := p.Acquire(context.Background(), testKey, testCred)
	require.NoError(t, err)
	lease.Release()

	time.Sleep(60 * time.Millisecond)

	lease, err = p.Acquire(context.Background(), testKey, testCred)
	require.NoError(t, err)
	defer lease.Release()

	assert.Equal(t, 2, d.dialCount(), "expired idle connection should be replaced")
	assert.True(t, d.conn(0).isClosed(), "evicted connection should be closed")
}

func TestUnhealthyConnectionDroppedOnRelease(t *testing.T) {
	d := &fakeDialer{}
	p := New(DefaultConfig(), d, nil)
	defer p.Shutdown()

	lease, err := p.Acquire(context.Background(), testKey, testCred)
	require.NoError(t, err)

	d.conn(0).setHealthy(false)
	lease.Release()

	assert.True(t, d.conn(0).isClosed())
	assert.Empty(t, p.Stats().Hosts, "broken connection must not return to the idle set")

	lease, err = p.Acquire(context.Background(), testKey, testCred)
	require.NoError(t, err)
	lease.Release()
	assert.Equal(t, 2, d.dialCount())
}

func TestCommandFailureKeepsConnectionPooled(t *testing.T) {
	d := &fakeDialer{}
	p := New(DefaultConfig(), d, nil)
	defer p.Shutdown()

	lease, err := p.Acquire(context.Background(), testKey, testCred)
	require.NoError(t, err)

	d.conn(0).setRunFunc(func(ctx context.Context, command string, opts ExecOptions) (*ExecResult, error) {
		res := &ExecResult{Stderr: "no such file", ExitCode: 2}
		return res, errdefs.ExecFailed(2, res.Stderr)
	})

	res, err := lease.Exec(context.Background(), "cat /missing", ExecOptions{})
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeExecFailed, errdefs.CodeOf(err))
	assert.Equal(t, 2, res.ExitCode)

	lease.Release()

	lease, err = p.Acquire(context.Background(), testKey, testCred)
	require.NoError(t, err)
	defer lease.Release()

	assert.Equal(t, 1, d.dialCount(), "command failure must not cost the connection")
}

func TestReleaseIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	p := New(DefaultConfig(), d, nil)
	defer p.Shutdown()

	lease, err := p.Acquire(context.Background(), testKey, testCred)
	require.NoError(t, err)

	lease.Release()
	lease.Release()

	stats := p.Stats()
	require.Len(t, stats.Hosts, 1)
	assert.Equal(t, 1, stats.Hosts[0].Idle)

	_, err = lease.Exec(context.Background(), "uptime", ExecOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "released")
}

func TestShutdownClosesEverything(t *testing.T) {
	d := &fakeDialer{}
	p := New(DefaultConfig(), d, nil)

	lease, err := p.Acquire(context.Background(), testKey, testCred)
	require.NoError(t, err)
	lease.Release()

	require.NoError(t, p.Shutdown())
	assert.True(t, d.conn(0).isClosed())

	_, err = p.Acquire(context.Background(), testKey, testCred)
	require.Error(t, err)

	require.NoError(t, p.Shutdown(), "second shutdown is a no-op")
}

func TestHostKey(t *testing.T) {
	k := NewHostKey("db-1", 0, "deploy")
	assert.Equal(t, 22, k.Port)
	assert.Equal(t, "deploy@db-1:22", k.String())
	assert.Equal(t, "db-1:22", k.Addr())
}
