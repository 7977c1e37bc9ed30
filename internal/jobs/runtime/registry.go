package runtime

import (
	"errors"
	"fmt"
	"sync"
)

// Handler is a job pipeline keyed by its job_type string.
type Handler interface {
	Type() string
	Run(ctx *Context) error
}

// Registry maps job_type strings to their handlers. Registration happens at
// startup; lookups happen on every claimed job, so reads share the lock.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return errors.New("nil handler")
	}
	jobType := h.Type()
	if jobType == "" {
		return errors.New("handler Type() is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[jobType]; dup {
		return fmt.Errorf("handler already registered for job_type=%s", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, found := r.handlers[jobType]
	return h, found
}

// Types lists the registered job types, mainly for startup logging.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
