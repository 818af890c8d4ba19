// Package credentials resolves the secrets used to authenticate pooled
// connections.
//
// The executor never sees raw secrets; it passes a host key to a Source
// and hands the resulting credential straight to the pool's dialer.
//
// Key Components:
//   - Source: lookup boundary keyed by host, port, and user
//   - StaticSource: in-memory source for tests and embedding
//   - FileSource: ordered YAML rules with glob host patterns
//
// Example Usage:
//
//	src, err := credentials.LoadFile("/etc/substrate/credentials.yaml")
//	if err != nil {
//	    return err
//	}
//	cred, err := src.Lookup(pool.NewHostKey("db-1", 22, "deploy"))
package credentials
