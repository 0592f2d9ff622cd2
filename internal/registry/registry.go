// Package registry tracks the running query of each client session so that
// it can be cancelled from outside the connection that started it.
package registry

import (
	"hash/fnv"
	"sync"

	"github.com/leapstack-labs/querydeck/pkg/backend"
)

// DefaultShards is the shard count used by New.
const DefaultShards = 32

type shard struct {
	mu      sync.Mutex
	handles map[string]backend.Handle
}

// Registry maps session ids to cancellable handles. At most one handle is
// stored per session id. Ids are spread over independently locked shards;
// calls for the same id are serialized by that id's shard.
type Registry struct {
	shards []*shard
}

// New creates an empty registry with DefaultShards shards.
func New() *Registry {
	return NewSharded(DefaultShards)
}

// NewSharded creates an empty registry with n shards (at least one).
func NewSharded(n int) *Registry {
	if n < 1 {
		n = 1
	}
	r := &Registry{shards: make([]*shard, n)}
	for i := range r.shards {
		r.shards[i] = &shard{handles: make(map[string]backend.Handle)}
	}
	return r
}

func (r *Registry) shard(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Register stores h as the running handle of id, replacing any previous one.
func (r *Registry) Register(id string, h backend.Handle) {
	s := r.shard(id)
	s.mu.Lock()
	s.handles[id] = h
	s.mu.Unlock()
}

// Lookup returns the handle registered for id.
func (r *Registry) Lookup(id string) (backend.Handle, bool) {
	s := r.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	return h, ok
}

// Unregister removes whatever handle is registered for id.
func (r *Registry) Unregister(id string) {
	s := r.shard(id)
	s.mu.Lock()
	delete(s.handles, id)
	s.mu.Unlock()
}

// Release removes the entry for id only if it still holds h. A query that
// finishes after a newer one registered under the same id leaves the newer
// entry in place. Handles must be comparable (pointer types are).
func (r *Registry) Release(id string, h backend.Handle) bool {
	s := r.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.handles[id]; ok && cur == h {
		delete(s.handles, id)
		return true
	}
	return false
}

// Cancel stops the handle registered for id and reports whether one was
// found. The entry stays registered; the query that owns it releases it once
// it observes the cancellation. Stop is called without holding the lock.
func (r *Registry) Cancel(id string) bool {
	h, ok := r.Lookup(id)
	if !ok {
		return false
	}
	h.Stop()
	return true
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.handles)
		s.mu.Unlock()
	}
	return n
}
