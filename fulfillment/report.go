package fulfillment

import (
	"slices"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/shibukawa/sqlconvention/requirement"
	"github.com/shibukawa/sqlconvention/tablestate"
)

// Report is the outcome of FulfillImmutable.
type Report struct {
	mu        sync.Mutex
	instances map[requirement.Key]tablestate.TableInstance
	failures  map[requirement.Key]error
}

func newReport() *Report {
	return &Report{
		instances: make(map[requirement.Key]tablestate.TableInstance),
		failures:  make(map[requirement.Key]error),
	}
}

func (r *Report) succeed(key requirement.Key, instance tablestate.TableInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.instances[key] = instance
}

func (r *Report) fail(key requirement.Key, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures[key] = err
}

// Err returns the provisioning errors of the immutable leaves of req, or nil when
// every table req depends on is available.
func (r *Report) Err(req requirement.Requirement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result *multierror.Error

	for _, leaf := range req.Immutables() {
		if err, ok := r.failures[leaf.Key()]; ok {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// Instance returns the table provisioned for an immutable leaf.
func (r *Report) Instance(req requirement.Requirement) (tablestate.TableInstance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	instance, ok := r.instances[req.Key()]

	return instance, ok
}

func (r *Report) Provisioned() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.instances)
}

func (r *Report) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.failures)
}

// ErrorOrNil aggregates every failure, ordered by requirement.
func (r *Report) ErrorOrNil() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]requirement.Key, 0, len(r.failures))
	for key := range r.failures {
		keys = append(keys, key)
	}

	slices.SortFunc(keys, func(a, b requirement.Key) int { return strings.Compare(a.String(), b.String()) })

	var result *multierror.Error
	for _, key := range keys {
		result = multierror.Append(result, r.failures[key])
	}

	return result.ErrorOrNil()
}
