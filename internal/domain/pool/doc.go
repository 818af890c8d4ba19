// Package pool provides reusable remote connections bucketed by host,
// port, and user.
//
// Dialing a remote host is expensive; the pool amortizes it by leasing
// established connections to callers and returning them to a per-host
// idle set on release. Buckets are bounded, idle connections expire
// lazily, and callers beyond the bound wait for a release instead of
// dialing past it.
//
// Key Components:
//   - HostKey: bucket identity (host, port, user)
//   - Pool: bounded per-key buckets with lazy idle eviction
//   - Lease: scoped claim with idempotent release
//   - Dialer: injectable transport factory (SSHDialer in production)
//
// Guarantees:
//   - At most MaxPerHost live connections per key, dials included
//   - A failed dial frees its slot and wakes one waiting acquirer
//   - No lock is held across dials, command execution, or closes
//   - Command failure leaves the connection pooled; transport faults
//     drop it on release
//
// Example Usage:
//
//	p := pool.New(pool.DefaultConfig(), pool.NewSSHDialer(), logger)
//	lease, err := p.Acquire(ctx, key, cred)
//	if err != nil {
//	    return err
//	}
//	defer lease.Release()
//	res, err := lease.Exec(ctx, "uname -a", pool.ExecOptions{})
package pool
