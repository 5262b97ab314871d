package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// RejectionKind names the first scheduling rule a booking request broke.
type RejectionKind string

const (
	InThePast           RejectionKind = "InThePast"
	NonWorkingDay       RejectionKind = "NonWorkingDay"
	OutsideWorkingHours RejectionKind = "OutsideWorkingHours"
	SchedulingConflict  RejectionKind = "SchedulingConflict"
)

// BookingRequest is a proposed booking. Date supplies the calendar day and
// location; TimeOfDay is "HH:MM" wall-clock on that day.
type BookingRequest struct {
	PractitionerID  uuid.UUID
	Date            time.Time
	TimeOfDay       string
	DurationMinutes int
}

// Start returns the absolute start instant of the request.
func (r BookingRequest) Start() (time.Time, error) {
	m, err := ParseTimeOfDay(r.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	return AtMinutes(r.Date, m), nil
}

// ValidationResult is either accepted, or rejected with a kind. Conflicts is
// set only for SchedulingConflict.
type ValidationResult struct {
	Accepted  bool
	Kind      RejectionKind
	Conflicts []Appointment
}

// Accept is the accepted result.
func Accept() ValidationResult { return ValidationResult{Accepted: true} }

// Reject builds a rejected result.
func Reject(kind RejectionKind, conflicts ...Appointment) ValidationResult {
	return ValidationResult{Kind: kind, Conflicts: conflicts}
}

// Message is a user-facing explanation of the result.
func (r ValidationResult) Message() string {
	if r.Accepted {
		return "accepted"
	}
	switch r.Kind {
	case InThePast:
		return "the requested time is in the past"
	case NonWorkingDay:
		return "the practitioner does not work on the requested day"
	case OutsideWorkingHours:
		return "the requested time is outside working hours"
	case SchedulingConflict:
		return "this slot is no longer available, please choose another"
	}
	return string(r.Kind)
}

// Validator checks booking requests. Now is injectable for tests.
type Validator struct {
	Now func() time.Time
}

// NewValidator returns a validator that uses the wall clock.
func NewValidator() *Validator {
	return &Validator{Now: time.Now}
}

// Validate applies, in order, the not-in-past, working-day, working-hours and
// no-conflict rules and reports the first one that fails. A request without a
// duration is treated as one slot interval long. An unparseable time of day
// cannot fall inside working hours and is rejected as OutsideWorkingHours.
func (v *Validator) Validate(req BookingRequest, settings CalendarSettings, existing []Appointment) ValidationResult {
	now := time.Now
	if v != nil && v.Now != nil {
		now = v.Now
	}

	minutes, err := ParseTimeOfDay(req.TimeOfDay)
	if err != nil {
		return Reject(OutsideWorkingHours)
	}
	start := AtMinutes(req.Date, minutes)

	if start.Before(now()) {
		return Reject(InThePast)
	}
	if !settings.IsWorkingDay(start.Weekday()) {
		return Reject(NonWorkingDay)
	}
	if minutes < settings.StartMinutes() || minutes >= settings.EndMinutes() {
		return Reject(OutsideWorkingHours)
	}

	duration := req.DurationMinutes
	if duration <= 0 {
		duration = settings.SlotIntervalMinutes
	}
	conflicts := FindConflicts(Candidate{
		PractitionerID:  req.PractitionerID,
		Start:           start,
		DurationMinutes: duration,
	}, settings.BufferMinutes, existing)
	if len(conflicts) > 0 {
		return Reject(SchedulingConflict, conflicts...)
	}
	return Accept()
}
