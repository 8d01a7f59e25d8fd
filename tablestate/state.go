// Package tablestate keeps track of provisioned tables.
//
// A State maps logical handles to the physical tables created for them. The suite
// owns one immutable State for the whole run; each test gets its own mutable State
// that is discarded when the test completes.
package tablestate

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shibukawa/sqlconvention"
	"github.com/shibukawa/sqlconvention/tabledef"
)

// Scope tells how long the entries of a State live.
type Scope int

const (
	SuiteScope Scope = iota + 1
	TestScope
)

func (s Scope) String() string {
	switch s {
	case SuiteScope:
		return "immutable"
	case TestScope:
		return "mutable"
	default:
		return "unknown"
	}
}

// TableInstance is the physical realization of a table definition.
type TableInstance struct {
	Handle         tabledef.TableHandle
	NameInDatabase string
	Database       string
	CreatedAt      time.Time
}

// Lookup is the read side of a State, handed to running tests.
type Lookup interface {
	Get(handle tabledef.TableHandle) (TableInstance, error)
}

// State is a registry of table instances for one scope.
type State struct {
	scope Scope

	mu        sync.RWMutex
	instances map[tabledef.TableHandle]TableInstance

	locksMu sync.Mutex
	locks   map[tabledef.TableHandle]*sync.Mutex
}

// New returns an empty State for scope.
func New(scope Scope) *State {
	return &State{
		scope:     scope,
		instances: make(map[tabledef.TableHandle]TableInstance),
		locks:     make(map[tabledef.TableHandle]*sync.Mutex),
	}
}

func (s *State) Scope() Scope { return s.scope }

// Register records the instance under its handle, replacing nothing: a second
// registration for the same handle keeps the first instance and returns it.
func (s *State) Register(instance TableInstance) TableInstance {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.instances[instance.Handle]; ok {
		return existing
	}

	s.instances[instance.Handle] = instance

	return instance
}

// Get returns the instance for handle or ErrTableNotFound.
func (s *State) Get(handle tabledef.TableHandle) (TableInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instance, ok := s.instances[handle]
	if !ok {
		return TableInstance{}, fmt.Errorf("%w: %s table '%s'", sqlconvention.ErrTableNotFound, s.scope, handle)
	}

	return instance, nil
}

// Remove deletes the entry for handle and reports whether it existed.
func (s *State) Remove(handle tabledef.TableHandle) (TableInstance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[handle]
	if ok {
		delete(s.instances, handle)
	}

	return instance, ok
}

// Instances returns every registered instance ordered by handle.
func (s *State) Instances() []TableInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]TableInstance, 0, len(s.instances))
	for _, instance := range s.instances {
		result = append(result, instance)
	}

	slices.SortFunc(result, func(a, b TableInstance) int {
		return strings.Compare(a.Handle.String(), b.Handle.String())
	})

	return result
}

// Len returns the number of registered instances.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.instances)
}

// Clear removes every entry. Lock entries are kept so holders stay valid.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.instances)
}

// Lock acquires the mutex of handle and returns its unlock function.
// Create and drop of the same handle must hold it.
func (s *State) Lock(handle tabledef.TableHandle) func() {
	s.locksMu.Lock()

	m, ok := s.locks[handle]
	if !ok {
		m = &sync.Mutex{}
		s.locks[handle] = m
	}

	s.locksMu.Unlock()

	m.Lock()

	return m.Unlock
}

// Chain looks a handle up in each Lookup in turn and returns the first hit.
type Chain []Lookup

func (c Chain) Get(handle tabledef.TableHandle) (TableInstance, error) {
	var lastErr error

	for _, l := range c {
		if l == nil {
			continue
		}

		instance, err := l.Get(handle)
		if err == nil {
			return instance, nil
		}

		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: '%s'", sqlconvention.ErrTableNotFound, handle)
	}

	return TableInstance{}, lastErr
}
