package credentials

import (
	"sync"

	"github.com/substratehq/substrate/internal/domain/pool"
	"github.com/substratehq/substrate/internal/shared/errdefs"
)

// Source resolves the credential for a host key. Implementations decide
// where secrets live; the pool and executor stay agnostic. A miss reports
// NotFound.
type Source interface {
	Lookup(key pool.HostKey) (pool.Credential, error)
}

// StaticSource holds credentials in memory, keyed exactly. It is the
// Source used in tests and for programmatic configuration.
type StaticSource struct {
	mu    sync.RWMutex
	creds map[pool.HostKey]pool.Credential
}

// NewStaticSource creates an empty static source.
func NewStaticSource() *StaticSource {
	return &StaticSource{creds: make(map[pool.HostKey]pool.Credential)}
}

// Put registers or replaces the credential for key.
func (s *StaticSource) Put(key pool.HostKey, cred pool.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[key] = cred
}

// Lookup returns the credential registered for key.
func (s *StaticSource) Lookup(key pool.HostKey) (pool.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[key]
	if !ok {
		return pool.Credential{}, errdefs.NotFound("credential", key.String())
	}
	return cred, nil
}
