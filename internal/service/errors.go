package service

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/example/civictrack/internal/workflow"
)

var (
	// ErrNotFound covers unknown applications and failed applicant
	// verification alike; callers cannot tell which credential was wrong.
	ErrNotFound = errors.New("application not found or invalid credentials")
	// ErrInvalidTransition is returned for disallowed status changes.
	ErrInvalidTransition = workflow.ErrInvalidTransition
	// ErrConflictingUpdate is returned when the status changed between read and write.
	ErrConflictingUpdate = errors.New("application was modified concurrently")
	// ErrAccessDenied is returned when a staff actor may not act on an application.
	ErrAccessDenied = errors.New("access denied")
	// ErrValidation wraps all input validation failures.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials is returned by staff login.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUserNotFound is returned when a referenced staff account is missing.
	ErrUserNotFound = errors.New("user not found")
)

// ValidationError carries a client-facing message and matches ErrValidation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return errors.WithStack(&ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}
