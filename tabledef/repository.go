package tabledef

import (
	"fmt"
	"slices"
	"sync"

	"github.com/shibukawa/sqlconvention"
)

// Repository maps table names to definitions. It is filled at startup and read afterwards.
type Repository struct {
	mu          sync.RWMutex
	definitions map[string]*TableDefinition
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{definitions: make(map[string]*TableDefinition)}
}

// Register adds a definition. Names are unique.
func (r *Repository) Register(def *TableDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: nil definition", sqlconvention.ErrMalformedTemplate)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.definitions[def.Name()]; exists {
		return fmt.Errorf("%w: '%s'", sqlconvention.ErrDuplicateDefinition, def.Name())
	}

	r.definitions[def.Name()] = def

	return nil
}

// Get returns the definition registered under name.
func (r *Repository) Get(name string) (*TableDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.definitions[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", sqlconvention.ErrDefinitionNotFound, name)
	}

	return def, nil
}

// Names returns the registered names in sorted order.
func (r *Repository) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Len returns the number of registered definitions.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.definitions)
}
