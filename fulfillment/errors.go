package fulfillment

import (
	"errors"
	"fmt"

	"github.com/shibukawa/sqlconvention"
	"github.com/shibukawa/sqlconvention/tabledef"
)

// ProvisioningError reports a failure to create or load one table.
type ProvisioningError struct {
	Handle   tabledef.TableHandle
	Database string
	Mutable  bool
	Err      error
}

func (e *ProvisioningError) Error() string {
	kind := "immutable"
	if e.Mutable {
		kind = "mutable"
	}

	return fmt.Sprintf("%s: %s table '%s' in database '%s': %v", sqlconvention.ErrProvisioning, kind, e.Handle, e.Database, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrProvisioning) hold for every ProvisioningError.
func (e *ProvisioningError) Is(target error) bool {
	return target == sqlconvention.ErrProvisioning
}

// AsProvisioningError extracts the first ProvisioningError from err.
func AsProvisioningError(err error) (*ProvisioningError, bool) {
	var pe *ProvisioningError
	if errors.As(err, &pe) {
		return pe, true
	}

	return nil, false
}
