package resilience

import (
	"sort"
	"sync"
)

// Registry owns one breaker per guarded key, created lazily on first use.
// All breakers share the registry's settings; the key becomes the breaker
// name.
type Registry struct {
	settings Settings
	breakers sync.Map // key string -> *Breaker
}

// NewRegistry creates a registry whose breakers use the given settings
func NewRegistry(settings Settings) *Registry {
	return &Registry{settings: settings}
}

// Get returns the breaker for key, creating it on first use
func (r *Registry) Get(key string) *Breaker {
	if b, ok := r.breakers.Load(key); ok {
		return b.(*Breaker)
	}

	created := New(key, r.settings)
	actual, _ := r.breakers.LoadOrStore(key, created)
	return actual.(*Breaker)
}

// Execute runs the request through the breaker guarding key
func (r *Registry) Execute(key string, req func() (interface{}, error)) (interface{}, error) {
	return r.Get(key).Execute(req)
}

// Snapshots returns a view of every breaker, sorted by key
func (r *Registry) Snapshots() []Snapshot {
	var snaps []Snapshot
	r.breakers.Range(func(_, value interface{}) bool {
		snaps = append(snaps, value.(*Breaker).Snapshot())
		return true
	})

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Name < snaps[j].Name
	})
	return snaps
}

// Len returns the number of breakers created so far
func (r *Registry) Len() int {
	count := 0
	r.breakers.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}
