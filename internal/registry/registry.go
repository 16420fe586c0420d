// Package registry holds the volatile set of in-flight downloads. It is the
// only state shared between orchestrator writers, progress monitors and
// reader endpoints, so it is lock-striped rather than guarded by one mutex.
package registry

import (
	"errors"
	"hash/fnv"
	"sync"

	"github.com/mediaforge/media_downloader/internal/storage"
)

// ErrDuplicateID is returned by Put when the id is already registered.
var ErrDuplicateID = errors.New("download id already registered")

const shardCount = 16

type shard struct {
	mu    sync.RWMutex
	items map[string]*storage.ActiveDownload
}

// Registry is a sharded concurrent map of active downloads keyed by id.
type Registry struct {
	shards [shardCount]*shard
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{items: make(map[string]*storage.ActiveDownload)}
	}

	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))

	return r.shards[h.Sum32()%shardCount]
}

// Put registers a download. It fails with ErrDuplicateID if the id is
// already present.
func (r *Registry) Put(id string, d *storage.ActiveDownload) error {
	s := r.shardFor(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; exists {
		return ErrDuplicateID
	}

	s.items[id] = d

	return nil
}

// Get returns the download for id, if registered.
func (r *Registry) Get(id string) (*storage.ActiveDownload, bool) {
	s := r.shardFor(id)

	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.items[id]

	return d, ok
}

// Has reports whether id is registered. Transfer loops probe this after
// every chunk; removal is their cancellation signal.
func (r *Registry) Has(id string) bool {
	s := r.shardFor(id)

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.items[id]

	return ok
}

// Remove deregisters id and reports whether it was present. The boolean
// arbitrates racing callers: only one observes true.
func (r *Registry) Remove(id string) bool {
	s := r.shardFor(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return false
	}

	delete(s.items, id)

	return true
}

// List returns a snapshot of registered downloads matching pred. A nil pred
// matches everything. Order is unspecified.
func (r *Registry) List(pred func(*storage.ActiveDownload) bool) []*storage.ActiveDownload {
	var out []*storage.ActiveDownload

	for _, s := range r.shards {
		s.mu.RLock()

		for _, d := range s.items {
			if pred == nil || pred(d) {
				out = append(out, d)
			}
		}

		s.mu.RUnlock()
	}

	return out
}

// Len returns the number of registered downloads.
func (r *Registry) Len() int {
	n := 0

	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}

	return n
}
