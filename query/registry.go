package query

import (
	"fmt"
	"slices"
	"sync"

	"github.com/shibukawa/sqlconvention"
)

// Resolver finds the executor bound to a database name.
type Resolver interface {
	Resolve(database string) (Executor, error)
}

// Registry maps database names to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register binds exec to database, replacing any previous binding.
func (r *Registry) Register(database string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executors[database] = exec
}

// Resolve returns ErrExecutorResolution when nothing is bound to database.
func (r *Registry) Resolve(database string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[database]
	if !ok {
		return nil, fmt.Errorf("%w: no executor for database '%s'", sqlconvention.ErrExecutorResolution, database)
	}

	return exec, nil
}

func (r *Registry) Databases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}
