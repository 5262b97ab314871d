package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Slot is a generated start time tagged with its bookability.
type Slot struct {
	Time                 string        `json:"time"`
	Label                string        `json:"label"`
	Start                time.Time     `json:"start"`
	IsAvailable          bool          `json:"isAvailable"`
	BlockingAppointments []Appointment `json:"blockingAppointments,omitempty"`
}

// AvailabilityQuery selects the practitioner, day and appointment length for
// an availability lookup. A zero DurationMinutes means one slot interval.
type AvailabilityQuery struct {
	PractitionerID  uuid.UUID
	Date            time.Time
	DurationMinutes int
}

// AvailableSlots tags every generated slot for q.Date as available or not.
// On a non-working day every slot is unavailable; otherwise a slot is
// available when no existing appointment conflicts with it. Conflicting
// appointments are attached to the slot either way.
func AvailableSlots(settings CalendarSettings, q AvailabilityQuery, existing []Appointment) []Slot {
	duration := q.DurationMinutes
	if duration <= 0 {
		duration = settings.SlotIntervalMinutes
	}
	working := settings.IsWorkingDay(q.Date.Weekday())

	generated := GenerateSlots(settings, q.Date)
	out := make([]Slot, 0, len(generated))
	for _, st := range generated {
		conflicts := FindConflicts(Candidate{
			PractitionerID:  q.PractitionerID,
			Start:           st.Start,
			DurationMinutes: duration,
		}, settings.BufferMinutes, existing)

		out = append(out, Slot{
			Time:                 st.Time,
			Label:                st.Label,
			Start:                st.Start,
			IsAvailable:          working && len(conflicts) == 0,
			BlockingAppointments: conflicts,
		})
	}
	return out
}
