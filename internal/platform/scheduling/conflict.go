package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Appointment is an existing booking as seen by the engine. Payload carries
// whatever the caller wants echoed back when the appointment blocks a slot.
type Appointment struct {
	ID              uuid.UUID `json:"id"`
	PractitionerID  uuid.UUID `json:"practitionerId"`
	Start           time.Time `json:"startDateTime"`
	DurationMinutes int       `json:"durationMinutes"`
	Payload         any       `json:"-"`
}

// Duration returns the appointment length, defaulting to an hour.
func (a Appointment) Duration() time.Duration {
	if a.DurationMinutes <= 0 {
		return DefaultAppointmentMinutes * time.Minute
	}
	return time.Duration(a.DurationMinutes) * time.Minute
}

// End returns the unpadded end instant.
func (a Appointment) End() time.Time {
	return a.Start.Add(a.Duration())
}

// Candidate is a proposed appointment.
type Candidate struct {
	PractitionerID  uuid.UUID
	Start           time.Time
	DurationMinutes int
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. It is the only overlap test in the engine.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// PaddedInterval returns [start-buffer, start+duration+buffer).
func PaddedInterval(start time.Time, duration, buffer time.Duration) (time.Time, time.Time) {
	return start.Add(-buffer), start.Add(duration + buffer)
}

// FindConflicts returns, in input order, every appointment of the candidate's
// practitioner that overlaps the candidate's buffer-padded interval. Existing
// appointments are compared on their occupied interval, so two appointments
// separated by at least the buffer never conflict and anything closer does.
// Padding only the candidate is equivalent to requiring a gap of at least
// the buffer between the two intervals.
func FindConflicts(c Candidate, bufferMinutes int, existing []Appointment) []Appointment {
	if bufferMinutes < 0 {
		bufferMinutes = 0
	}
	dur := time.Duration(c.DurationMinutes) * time.Minute
	if c.DurationMinutes <= 0 {
		dur = DefaultAppointmentMinutes * time.Minute
	}
	cStart, cEnd := PaddedInterval(c.Start, dur, time.Duration(bufferMinutes)*time.Minute)

	var conflicts []Appointment
	for _, a := range existing {
		if a.PractitionerID != c.PractitionerID {
			continue
		}
		if Overlaps(cStart, cEnd, a.Start, a.End()) {
			conflicts = append(conflicts, a)
		}
	}
	return conflicts
}

// HasConflict reports whether FindConflicts would return anything.
func HasConflict(c Candidate, bufferMinutes int, existing []Appointment) bool {
	return len(FindConflicts(c, bufferMinutes, existing)) > 0
}
