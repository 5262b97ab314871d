package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SettingsRepository interface {
	// Get returns ErrSettingsNotFound when the practitioner has no row.
	Get(ctx context.Context, practitionerID uuid.UUID) (*CalendarSettingsRecord, error)
	Upsert(ctx context.Context, rec *CalendarSettingsRecord) error
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// ListActiveInRange returns the practitioner's booked appointments whose
	// [start, start+duration) intersects [from, to).
	ListActiveInRange(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	ListByPractitioner(ctx context.Context, practitionerID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	Cancel(ctx context.Context, id uuid.UUID, reason *string) (*Appointment, error)
	// LockPractitioner serializes bookings for one practitioner until the
	// surrounding transaction ends.
	LockPractitioner(ctx context.Context, practitionerID uuid.UUID) error
}

// TxRunner runs fn in a transaction; repositories called with the context
// passed to fn take part in it.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error
