package executor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jdziat/simple-durable-ops/pkg/core"
	"github.com/jdziat/simple-durable-ops/pkg/security"
)

// Registry holds executors by name. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor. Names must be unique and valid.
func (r *Registry) Register(e Executor) error {
	if e == nil {
		return fmt.Errorf("ops: executor cannot be nil")
	}
	name := e.Name()
	if err := security.ValidateExecutorName(name); err != nil {
		return fmt.Errorf("%w: %q", err, name)
	}
	if !e.Kind().Valid() {
		return fmt.Errorf("%w: %q for executor %q", core.ErrInvalidKind, e.Kind(), name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[name]; exists {
		return fmt.Errorf("%w: %q", core.ErrDuplicateExecutor, name)
	}
	r.executors[name] = e
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(e Executor) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// Lookup returns the executor registered under name.
func (r *Registry) Lookup(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrExecutorNotFound, name)
	}
	return e, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
