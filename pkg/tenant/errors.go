package tenant

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkspaceNotFound is returned when no workspace document exists
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrTenantMismatch is returned when a request references resources from
	// another workspace. Always fatal for the turn; never retried.
	ErrTenantMismatch = errors.New("tenant mismatch")
)

// MismatchError carries both sides of a cross-workspace reference so the
// security telemetry event can name them. Unwraps to ErrTenantMismatch.
type MismatchError struct {
	WorkspaceID         string
	ResourceWorkspaceID string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("tenant mismatch: workspace %s referenced resource of workspace %s",
		e.WorkspaceID, e.ResourceWorkspaceID)
}

func (e *MismatchError) Unwrap() error { return ErrTenantMismatch }

// ValidationError wraps field-specific validation errors in workspace documents
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
