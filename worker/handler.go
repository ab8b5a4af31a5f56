// Package worker executes queued jobs: handler dispatch by job kind,
// all-settle concurrent batch processing and the polling daemon.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/corvid-labs/granary/queue"
)

// Handler executes jobs of a single kind. Handlers decode the job payload
// themselves and must poll ctx at reasonable checkpoints.
type Handler interface {
	Kind() queue.JobKind
	Execute(ctx context.Context, job *queue.Job) error
}

// Registry maps job kinds to handlers. Safe for concurrent use.
type Registry struct {
	handlers map[queue.JobKind]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[queue.JobKind]Handler)}
}

// Register adds a handler for its kind.
// Panics if a handler is already registered for that kind.
func (r *Registry) Register(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := handler.Kind()
	if _, exists := r.handlers[kind]; exists {
		panic(fmt.Sprintf("handler already registered for kind: %s", kind))
	}
	r.handlers[kind] = handler
}

// Get retrieves the handler for a kind, or nil if none is registered.
func (r *Registry) Get(kind queue.JobKind) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[kind]
}

// Kinds returns all registered job kinds.
func (r *Registry) Kinds() []queue.JobKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]queue.JobKind, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	return kinds
}
