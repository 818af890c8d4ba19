package pool

import (
	"context"
	"errors"
	"sync/atomic"
)

var errLeaseReleased = errors.New("lease already released")

// Lease is a scoped claim on one pooled connection. Exactly one caller
// holds a lease at a time; Release returns the connection to the pool
// and is safe to call more than once.
type Lease struct {
	pool     *Pool
	key      HostKey
	entry    *entry
	released atomic.Bool
}

// ID returns the pooled connection's identifier.
func (l *Lease) ID() string {
	return l.entry.id
}

// Key returns the bucket this lease draws from.
func (l *Lease) Key() HostKey {
	return l.key
}

// Exec runs one command on the leased connection. The ctx deadline bounds
// the execution; on expiry the remote command is killed and ExecutionTimeout
// is reported while the connection itself stays pooled.
func (l *Lease) Exec(ctx context.Context, command string, opts ExecOptions) (*ExecResult, error) {
	if l.released.Load() {
		return nil, errLeaseReleased
	}
	return l.entry.conn.Run(ctx, command, opts)
}

// Release returns the connection to the pool. Idempotent.
func (l *Lease) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.pool.release(l.key, l.entry)
	}
}
