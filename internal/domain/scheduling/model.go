package scheduling

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	engine "github.com/ehr/scheduler/internal/platform/scheduling"
)

// Appointment statuses. Only booked appointments take part in conflict
// detection.
const (
	StatusBooked    = "booked"
	StatusCancelled = "cancelled"
)

// CalendarSettingsRecord is a practitioner's stored calendar as the settings
// editor wrote it. WorkingDays is kept as raw JSON because historical rows mix
// weekday names and 0-6 indices.
type CalendarSettingsRecord struct {
	PractitionerID      uuid.UUID       `json:"practitionerId"`
	StartTime           string          `json:"startTime"`
	EndTime             string          `json:"endTime"`
	SlotIntervalMinutes int             `json:"slotIntervalMinutes"`
	BufferMinutes       int             `json:"bufferMinutes"`
	WorkingDays         json.RawMessage `json:"workingDays"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// Raw converts the record into the engine's raw settings. A working-days
// column that is not a JSON array resolves as if it were empty.
func (r *CalendarSettingsRecord) Raw() *engine.RawSettings {
	if r == nil {
		return nil
	}
	return &engine.RawSettings{
		StartTime:           r.StartTime,
		EndTime:             r.EndTime,
		SlotIntervalMinutes: r.SlotIntervalMinutes,
		BufferMinutes:       r.BufferMinutes,
		WorkingDays:         decodeWorkingDays(r.WorkingDays),
	}
}

func decodeWorkingDays(raw json.RawMessage) []any {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var days []any
	if err := dec.Decode(&days); err != nil {
		return nil
	}
	return days
}

// Appointment is a persisted booking.
type Appointment struct {
	ID                 uuid.UUID  `json:"id"`
	PractitionerID     uuid.UUID  `json:"practitionerId"`
	PatientID          *uuid.UUID `json:"patientId,omitempty"`
	StartTime          time.Time  `json:"startDateTime"`
	MinutesDuration    *int       `json:"durationMinutes,omitempty"`
	Status             string     `json:"status"`
	AppointmentType    *string    `json:"appointmentType,omitempty"`
	Note               *string    `json:"note,omitempty"`
	CancellationReason *string    `json:"cancellationReason,omitempty"`
	CreatedBy          string     `json:"createdBy,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// ToEngine returns the engine view of a. The row itself rides along as the
// payload so blocking appointments can be summarized later.
func (a *Appointment) ToEngine() engine.Appointment {
	out := engine.Appointment{
		ID:             a.ID,
		PractitionerID: a.PractitionerID,
		Start:          a.StartTime,
		Payload:        a,
	}
	if a.MinutesDuration != nil {
		out.DurationMinutes = *a.MinutesDuration
	}
	return out
}

func toEngine(rows []*Appointment) []engine.Appointment {
	out := make([]engine.Appointment, 0, len(rows))
	for _, a := range rows {
		out = append(out, a.ToEngine())
	}
	return out
}

// AppointmentSummary is what callers learn about an appointment that blocks a
// slot or a booking.
type AppointmentSummary struct {
	ID              uuid.UUID `json:"id"`
	Start           time.Time `json:"startDateTime"`
	End             time.Time `json:"endDateTime"`
	DurationMinutes int       `json:"durationMinutes"`
	AppointmentType string    `json:"appointmentType,omitempty"`
}

// Summarize builds summaries for engine appointments.
func Summarize(appts []engine.Appointment) []AppointmentSummary {
	if len(appts) == 0 {
		return nil
	}
	out := make([]AppointmentSummary, 0, len(appts))
	for _, a := range appts {
		s := AppointmentSummary{
			ID:              a.ID,
			Start:           a.Start,
			End:             a.End(),
			DurationMinutes: int(a.Duration() / time.Minute),
		}
		if row, ok := a.Payload.(*Appointment); ok && row.AppointmentType != nil {
			s.AppointmentType = *row.AppointmentType
		}
		out = append(out, s)
	}
	return out
}

// BookingInput is the booking payload accepted by the API. Date is a calendar
// day ("2006-01-02" or an RFC 3339 timestamp) and Time a wall-clock "HH:MM" in
// the clinic time zone.
type BookingInput struct {
	PractitionerID  uuid.UUID  `json:"practitionerId"`
	PatientID       *uuid.UUID `json:"patientId,omitempty"`
	Date            string     `json:"date"`
	Time            string     `json:"timeOfDay"`
	DurationMinutes int        `json:"durationMinutes,omitempty"`
	AppointmentType *string    `json:"appointmentType,omitempty"`
	Note            *string    `json:"note,omitempty"`
}

// SettingsInput is the body of a calendar settings update.
type SettingsInput struct {
	StartTime           string `json:"startTime"`
	EndTime             string `json:"endTime"`
	SlotIntervalMinutes int    `json:"slotIntervalMinutes"`
	BufferMinutes       int    `json:"bufferMinutes"`
	WorkingDays         []any  `json:"workingDays"`
}
