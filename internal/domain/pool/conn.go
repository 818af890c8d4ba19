package pool

import (
	"context"
	"io"
	"time"
)

// Dialer establishes connections to remote hosts. The production
// implementation is SSHDialer; tests inject fakes to observe dial counts.
type Dialer interface {
	Dial(ctx context.Context, key HostKey, cred Credential) (Conn, error)
}

// Conn is a single live connection to a remote host. Implementations must
// be safe for sequential reuse across many commands.
type Conn interface {
	// Run executes one command and captures its output. A non-zero exit
	// reports ExecFailed alongside the partial result.
	Run(ctx context.Context, command string, opts ExecOptions) (*ExecResult, error)

	// Healthy reports whether the transport is still usable. The pool
	// drops unhealthy connections on release instead of returning them
	// to the idle set.
	Healthy() bool

	Close() error
}

// ExecOptions tunes a single command execution.
type ExecOptions struct {
	// Stdin, when non-nil, is streamed to the remote command.
	Stdin io.Reader

	// MaxOutputBytes caps captured stdout. Zero applies the accumulator
	// default of 10 MiB.
	MaxOutputBytes int
}

// ExecResult is the captured outcome of one command.
type ExecResult struct {
	Stdout   []byte
	Stderr   string
	ExitCode int
	Duration time.Duration
}
