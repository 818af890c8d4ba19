package executor

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/substratehq/substrate/internal/credentials"
	"github.com/substratehq/substrate/internal/domain/pool"
	"github.com/substratehq/substrate/internal/infrastructure/resilience"
	"github.com/substratehq/substrate/internal/preview"
	"github.com/substratehq/substrate/internal/protocol"
	"github.com/substratehq/substrate/internal/shared/errdefs"
)

type fakeConn struct {
	mu       sync.Mutex
	commands []string
	stdin    string
	runFunc  func(command string, opts pool.ExecOptions) (*pool.ExecResult, error)
}

func (c *fakeConn) Run(ctx context.Context, command string, opts pool.ExecOptions) (*pool.ExecResult, error) {
	c.mu.Lock()
	c.commands = append(c.commands, command)
	if opts.Stdin != nil {
		data, _ := io.ReadAll(opts.Stdin)
		c.stdin = string(data)
	}
	fn := c.runFunc
	c.mu.Unlock()
	if fn != nil {
		return fn(command, opts)
	}
	return &pool.ExecResult{Stdout: []byte("ok\n"), ExitCode: 0}, nil
}

func (c *fakeConn) Healthy() bool { return true }
func (c *fakeConn) Close() error  { return nil }

func (c *fakeConn) lastCommand() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.commands) == 0 {
		return ""
	}
	return c.commands[len(c.commands)-1]
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	failures int
	failWith error
	runFunc  func(command string, opts pool.ExecOptions) (*pool.ExecResult, error)
	last     *fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, key pool.HostKey, cred pool.Credential) (pool.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		return nil, d.failWith
	}
	c := &fakeConn{runFunc: d.runFunc}
	d.last = c
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

type fakePlanner struct {
	plan *preview.Plan
	err  error
	seen []protocol.Command
}

func (p *fakePlanner) Plan(ctx context.Context, cmd protocol.Command) (*preview.Plan, error) {
	p.seen = append(p.seen, cmd)
	if p.err != nil {
		return nil, p.err
	}
	return p.plan, nil
}

var testBreakerSettings = resilience.Settings{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	Timeout:          time.Minute,
}

func newTestExecutor(t *testing.T, dialer pool.Dialer, settings resilience.Settings) *Executor {
	t.Helper()
	logger := zap.NewNop()
	p := pool.New(pool.DefaultConfig(), dialer, logger)
	t.Cleanup(func() { p.Shutdown() })

	creds := credentials.NewStaticSource()
	creds.Put(pool.NewHostKey("db-1", 22, "deploy"), pool.Credential{Password: "secret"})

	return New(Config{DefaultTimeout: 5 * time.Second}, p, creds, resilience.NewRegistry(settings), logger)
}

func sshRequest(cmd protocol.Command, retry *protocol.RetryPolicy) *protocol.Request {
	return &protocol.Request{
		Version: protocol.Version,
		Command: cmd,
		Execution: protocol.Execution{
			Mode:  protocol.ModeSSH,
			Host:  "db-1",
			Port:  22,
			User:  "deploy",
			Retry: retry,
		},
	}
}

func TestExecuteRejectsInvalidRequest(t *testing.T) {
	exe := New(Config{}, nil, nil, nil, zap.NewNop())

	resp := exe.Execute(context.Background(), &protocol.Request{
		Version:   "2.0",
		Command:   protocol.Command{Type: protocol.CommandSystemInfo},
		Execution: protocol.Execution{Mode: protocol.ModeLocal},
	})

	assert.Equal(t, protocol.Version, resp.Version)
	assert.Equal(t, protocol.StatusError, resp.Result.Status)
	require.NotNil(t, resp.Result.Error)
	assert.Equal(t, string(errdefs.CodeInvalidRequest), resp.Result.Error.Code)
	assert.Equal(t, 0, resp.Metadata.Attempts)
}

func TestExecuteLocalSystemInfo(t *testing.T) {
	exe := New(Config{}, nil, nil, nil, zap.NewNop())

	resp := exe.Execute(context.Background(), &protocol.Request{
		Version:   protocol.Version,
		Command:   protocol.Command{Type: protocol.CommandSystemInfo},
		Execution: protocol.Execution{Mode: protocol.ModeLocal},
	})

	require.Equal(t, protocol.StatusSuccess, resp.Result.Status)
	assert.NotEmpty(t, resp.Result.Data["hostname"])
	assert.NotEmpty(t, resp.Result.Data["platform"])
	assert.Equal(t, 1, resp.Metadata.Attempts)
	assert.False(t, resp.Metadata.Cached)
}

func TestExecuteRemoteScript(t *testing.T) {
	dialer := &fakeDialer{}
	exe := newTestExecutor(t, dialer, testBreakerSettings)

	resp := exe.Execute(context.Background(), sshRequest(protocol.Command{
		Type:   protocol.CommandRunScript,
		Script: "uptime",
	}, nil))

	require.Equal(t, protocol.StatusSuccess, resp.Result.Status)
	assert.Equal(t, "ok\n", resp.Result.Data["stdout"])
	assert.EqualValues(t, 0, resp.Result.Data["exit_code"])
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, "'sh' '-c' 'uptime'", dialer.lastConn().lastCommand())
}

func TestExecuteRemoteSystemInfo(t *testing.T) {
	dialer := &fakeDialer{
		runFunc: func(command string, opts pool.ExecOptions) (*pool.ExecResult, error) {
			return &pool.ExecResult{
				Stdout:   []byte("web-7\nLinux\nx86_64\n8\n6.1.0-foo\n"),
				ExitCode: 0,
			}, nil
		},
	}
	exe := newTestExecutor(t, dialer, testBreakerSettings)

	resp := exe.Execute(context.Background(), sshRequest(protocol.Command{
		Type: protocol.CommandSystemInfo,
	}, nil))

	require.Equal(t, protocol.StatusSuccess, resp.Result.Status)
	assert.Equal(t, "web-7", resp.Result.Data["hostname"])
	assert.Equal(t, "linux", resp.Result.Data["platform"])
	assert.Equal(t, "x86_64", resp.Result.Data["arch"])
	assert.Equal(t, 8, resp.Result.Data["cpus"])
	assert.Equal(t, "6.1.0-foo", resp.Result.Data["kernel"])
}

func TestExecuteRemoteWriteStreamsContent(t *testing.T) {
	dialer := &fakeDialer{}
	exe := newTestExecutor(t, dialer, testBreakerSettings)

	resp := exe.Execute(context.Background(), sshRequest(protocol.Command{
		Type:    protocol.CommandFileOp,
		Op:      protocol.FileOpWrite,
		Path:    "/tmp/substrate.txt",
		Content: "hello",
	}, nil))

	require.Equal(t, protocol.StatusSuccess, resp.Result.Status)
	assert.Equal(t, true, resp.Result.Data["written"])
	assert.EqualValues(t, 5, resp.Result.Data["bytes"])

	conn := dialer.lastConn()
	assert.Equal(t, "cat > '/tmp/substrate.txt'", conn.lastCommand())
	assert.Equal(t, "hello", conn.stdin)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	dialer := &fakeDialer{
		failures: 2,
		failWith: errdefs.ConnectFailed("db-1:22", errors.New("connection refused")),
	}
	exe := newTestExecutor(t, dialer, testBreakerSettings)

	resp := exe.Execute(context.Background(), sshRequest(
		protocol.Command{Type: protocol.CommandRunScript, Script: "uptime"},
		&protocol.RetryPolicy{MaxAttempts: 3, BaseBackoffMS: 1, Multiplier: 2},
	))

	require.Equal(t, protocol.StatusSuccess, resp.Result.Status)
	assert.Equal(t, 3, resp.Metadata.Attempts)
	assert.Equal(t, 3, dialer.dialCount())
}

func TestExecuteDoesNotRetryCommandFailure(t *testing.T) {
	dialer := &fakeDialer{
		runFunc: func(command string, opts pool.ExecOptions) (*pool.ExecResult, error) {
			return &pool.ExecResult{Stdout: []byte(""), Stderr: "boom", ExitCode: 3},
				errdefs.ExecFailed(3, "boom")
		},
	}
	exe := newTestExecutor(t, dialer, testBreakerSettings)

	resp := exe.Execute(context.Background(), sshRequest(
		protocol.Command{Type: protocol.CommandRunScript, Script: "false"},
		&protocol.RetryPolicy{MaxAttempts: 3, BaseBackoffMS: 1},
	))

	require.Equal(t, protocol.StatusError, resp.Result.Status)
	assert.Equal(t, string(errdefs.CodeExecFailed), resp.Result.Error.Code)
	assert.Equal(t, 1, resp.Metadata.Attempts)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestExecuteCircuitOpensForFailingHost(t *testing.T) {
	dialer := &fakeDialer{
		failures: 100,
		failWith: errdefs.ConnectFailed("db-1:22", errors.New("connection refused")),
	}
	settings := testBreakerSettings
	settings.FailureThreshold = 2
	exe := newTestExecutor(t, dialer, settings)

	req := sshRequest(protocol.Command{Type: protocol.CommandRunScript, Script: "uptime"}, nil)

	for i := 0; i < 2; i++ {
		resp := exe.Execute(context.Background(), req)
		require.Equal(t, protocol.StatusError, resp.Result.Status)
		assert.Equal(t, string(errdefs.CodeConnectFailed), resp.Result.Error.Code)
	}

	// The circuit is open now; the dialer must not be touched again and
	// the short-circuit must not be retried even with a retry policy.
	resp := exe.Execute(context.Background(), sshRequest(
		protocol.Command{Type: protocol.CommandRunScript, Script: "uptime"},
		&protocol.RetryPolicy{MaxAttempts: 3, BaseBackoffMS: 1},
	))

	assert.Equal(t, string(errdefs.CodeCircuitOpen), resp.Result.Error.Code)
	assert.Equal(t, 1, resp.Metadata.Attempts)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestExecuteCommandFailureDoesNotTripBreaker(t *testing.T) {
	dialer := &fakeDialer{
		runFunc: func(command string, opts pool.ExecOptions) (*pool.ExecResult, error) {
			return &pool.ExecResult{Stderr: "nope", ExitCode: 1}, errdefs.ExecFailed(1, "nope")
		},
	}
	settings := testBreakerSettings
	settings.FailureThreshold = 2
	exe := newTestExecutor(t, dialer, settings)

	req := sshRequest(protocol.Command{Type: protocol.CommandRunScript, Script: "false"}, nil)

	// Far past the failure threshold; every call still reaches the host.
	for i := 0; i < 5; i++ {
		resp := exe.Execute(context.Background(), req)
		require.Equal(t, protocol.StatusError, resp.Result.Status)
		assert.Equal(t, string(errdefs.CodeExecFailed), resp.Result.Error.Code)
	}
}

func TestExecutePreviewPlan(t *testing.T) {
	planner := &fakePlanner{
		plan: &preview.Plan{
			Summary: "would touch 2 paths",
			Effects: []preview.Effect{
				{Kind: "write", Path: "/etc/app.conf"},
				{Kind: "exec", Path: "/usr/bin/systemctl", Detail: "restart app"},
			},
		},
	}
	exe := New(Config{}, nil, nil, nil, zap.NewNop()).WithPreview(planner)

	resp := exe.Execute(context.Background(), &protocol.Request{
		Version:   protocol.Version,
		Command:   protocol.Command{Type: protocol.CommandRunScript, Script: "apply-config"},
		Execution: protocol.Execution{Mode: protocol.ModePreview},
	})

	require.Equal(t, protocol.StatusSuccess, resp.Result.Status)
	assert.Equal(t, false, resp.Result.Data["executed"])
	assert.Equal(t, "would touch 2 paths", resp.Result.Data["summary"])
	require.Len(t, planner.seen, 1)
	assert.Equal(t, protocol.CommandRunScript, planner.seen[0].Type)
}

func TestExecutePreviewNotConfigured(t *testing.T) {
	exe := New(Config{}, nil, nil, nil, zap.NewNop())

	resp := exe.Execute(context.Background(), &protocol.Request{
		Version:   protocol.Version,
		Command:   protocol.Command{Type: protocol.CommandSystemInfo},
		Execution: protocol.Execution{Mode: protocol.ModePreview},
	})

	require.Equal(t, protocol.StatusError, resp.Result.Status)
	assert.Equal(t, string(errdefs.CodeInvalidRequest), resp.Result.Error.Code)
}

func TestExecuteMissingCredential(t *testing.T) {
	dialer := &fakeDialer{}
	exe := newTestExecutor(t, dialer, testBreakerSettings)

	resp := exe.Execute(context.Background(), &protocol.Request{
		Version: protocol.Version,
		Command: protocol.Command{Type: protocol.CommandSystemInfo},
		Execution: protocol.Execution{
			Mode: protocol.ModeSSH,
			Host: "unknown-host",
			User: "deploy",
		},
	})

	require.Equal(t, protocol.StatusError, resp.Result.Status)
	assert.Equal(t, string(errdefs.CodeNotFound), resp.Result.Error.Code)
	assert.Equal(t, 0, dialer.dialCount())
}
