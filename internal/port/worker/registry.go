package worker

import (
	"fmt"
	"slices"
	"sync"

	"github.com/spediresicuro/anne/internal/domain/intent"
)

// Registry maps worker kinds to in-process or remote workers.
type Registry struct {
	mu      sync.RWMutex
	workers map[intent.WorkerKind]Worker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[intent.WorkerKind]Worker)}
}

// Register makes w available for kind. Registering a kind twice is an error.
func (r *Registry) Register(kind intent.WorkerKind, w Worker) error {
	if _, err := intent.ParseKind(string(kind)); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	if w == nil {
		return fmt.Errorf("worker: nil worker for %q", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[kind]; exists {
		return fmt.Errorf("worker: duplicate registration for %q", kind)
	}
	r.workers[kind] = w
	return nil
}

// Get returns the worker for kind.
func (r *Registry) Get(kind intent.WorkerKind) (Worker, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[kind]
	return w, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []intent.WorkerKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]intent.WorkerKind, 0, len(r.workers))
	for k := range r.workers {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
