package scheduling

import (
	"errors"
	"fmt"

	engine "github.com/ehr/scheduler/internal/platform/scheduling"
)

var (
	ErrSettingsNotFound    = errors.New("calendar settings not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidRequest      = errors.New("invalid request")
)

// RejectionError is returned by the write path when a booking fails
// validation, either up front or on the re-check inside the transaction.
type RejectionError struct {
	Result engine.ValidationResult
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("booking rejected: %s: %s", e.Result.Kind, e.Result.Message())
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
