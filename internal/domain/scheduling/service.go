package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/scheduler/internal/platform/cache"
	engine "github.com/ehr/scheduler/internal/platform/scheduling"
	"github.com/ehr/scheduler/internal/platform/telemetry"
)

// Limits enforced when a calendar is edited. Stored rows outside them still
// resolve; the engine never rejects settings.
const (
	MinSlotIntervalMinutes = 15
	MaxSlotIntervalMinutes = 120
	MaxBufferMinutes       = 60
	MaxDurationMinutes     = 8 * 60
)

type ServiceConfig struct {
	DefaultCalendar engine.CalendarSettings
	Location        *time.Location
	Cache           *cache.Cache
	Metrics         *telemetry.SchedulingMetrics
	Logger          zerolog.Logger
	// Now overrides the wall clock used to reject bookings in the past.
	Now func() time.Time
}

type Service struct {
	settings     SettingsRepository
	appointments AppointmentRepository
	tx           TxRunner
	resolver     engine.Resolver
	validator    *engine.Validator
	loc          *time.Location
	cache        *cache.Cache
	metrics      *telemetry.SchedulingMetrics
	logger       zerolog.Logger
}

func NewService(settings SettingsRepository, appts AppointmentRepository, tx TxRunner, cfg ServiceConfig) *Service {
	if tx == nil {
		tx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	v := engine.NewValidator()
	if cfg.Now != nil {
		v.Now = cfg.Now
	}
	return &Service{
		settings:     settings,
		appointments: appts,
		tx:           tx,
		resolver:     engine.NewResolver(cfg.DefaultCalendar),
		validator:    v,
		loc:          loc,
		cache:        cfg.Cache,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
}

// Location is the clinic time zone all wall-clock times are read in.
func (s *Service) Location() *time.Location { return s.loc }

// -- Calendar settings --

func settingsCacheKey(practitionerID uuid.UUID) string {
	return "calendar-settings:" + practitionerID.String()
}

// CalendarSettings returns the practitioner's resolved calendar, or the
// configured default when none is stored.
func (s *Service) CalendarSettings(ctx context.Context, practitionerID uuid.UUID) (engine.CalendarSettings, error) {
	key := settingsCacheKey(practitionerID)
	var cached engine.CalendarSettings
	switch err := s.cache.GetJSON(ctx, key, &cached); {
	case err == nil:
		s.metrics.ObserveSettingsCache(true)
		return cached, nil
	case !errors.Is(err, cache.ErrMiss):
		s.logger.Warn().Err(err).Str("practitioner_id", practitionerID.String()).Msg("settings cache read failed")
	}
	if s.cache != nil {
		s.metrics.ObserveSettingsCache(false)
	}

	rec, err := s.settings.Get(ctx, practitionerID)
	if err != nil && !errors.Is(err, ErrSettingsNotFound) {
		return engine.CalendarSettings{}, err
	}
	resolved := s.resolver.Resolve(rec.Raw())

	if err := s.cache.SetJSON(ctx, key, resolved); err != nil {
		s.logger.Warn().Err(err).Str("practitioner_id", practitionerID.String()).Msg("settings cache write failed")
	}
	return resolved, nil
}

// UpdateCalendarSettings validates and stores a practitioner's calendar and
// returns it resolved. Working days are stored as sorted 0-6 indices.
func (s *Service) UpdateCalendarSettings(ctx context.Context, practitionerID uuid.UUID, in SettingsInput) (engine.CalendarSettings, error) {
	if practitionerID == uuid.Nil {
		return engine.CalendarSettings{}, invalid("practitioner id is required")
	}
	start, err := engine.ParseTimeOfDay(in.StartTime)
	if err != nil {
		return engine.CalendarSettings{}, invalid("startTime: %v", err)
	}
	end, err := engine.ParseTimeOfDay(in.EndTime)
	if err != nil {
		return engine.CalendarSettings{}, invalid("endTime: %v", err)
	}
	if end <= start {
		return engine.CalendarSettings{}, invalid("endTime must be after startTime")
	}
	if in.SlotIntervalMinutes < MinSlotIntervalMinutes || in.SlotIntervalMinutes > MaxSlotIntervalMinutes {
		return engine.CalendarSettings{}, invalid("slotIntervalMinutes must be between %d and %d", MinSlotIntervalMinutes, MaxSlotIntervalMinutes)
	}
	if in.BufferMinutes < 0 || in.BufferMinutes > MaxBufferMinutes {
		return engine.CalendarSettings{}, invalid("bufferMinutes must be between 0 and %d", MaxBufferMinutes)
	}
	days, err := canonicalWorkingDays(in.WorkingDays)
	if err != nil {
		return engine.CalendarSettings{}, err
	}

	rec := &CalendarSettingsRecord{
		PractitionerID:      practitionerID,
		StartTime:           engine.FormatTimeOfDay(start),
		EndTime:             engine.FormatTimeOfDay(end),
		SlotIntervalMinutes: in.SlotIntervalMinutes,
		BufferMinutes:       in.BufferMinutes,
		WorkingDays:         days,
	}
	if err := s.settings.Upsert(ctx, rec); err != nil {
		return engine.CalendarSettings{}, err
	}
	if err := s.cache.Delete(ctx, settingsCacheKey(practitionerID)); err != nil {
		s.logger.Warn().Err(err).Str("practitioner_id", practitionerID.String()).Msg("settings cache invalidation failed")
	}
	s.logger.Info().Str("practitioner_id", practitionerID.String()).Msg("calendar settings updated")
	return s.resolver.Resolve(rec.Raw()), nil
}

func canonicalWorkingDays(entries []any) (json.RawMessage, error) {
	if len(entries) == 0 {
		return nil, invalid("workingDays must name at least one day")
	}
	seen := make(map[time.Weekday]bool, 7)
	for _, e := range entries {
		d, ok := engine.ParseWeekday(e)
		if !ok {
			return nil, invalid("workingDays: unrecognized day %v", e)
		}
		seen[d] = true
	}
	days := make([]int, 0, len(seen))
	for d := range seen {
		days = append(days, int(d))
	}
	sort.Ints(days)
	raw, err := json.Marshal(days)
	if err != nil {
		return nil, fmt.Errorf("encode working days: %w", err)
	}
	return raw, nil
}

// -- Availability --

// ParseDate reads a calendar day as midnight in loc. It accepts "2006-01-02"
// or an RFC 3339 timestamp, in which case the day as written is used.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return d, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, loc), nil
	}
	return time.Time{}, invalid("date %q is not an ISO-8601 date", s)
}

func (s *Service) dayStart(t time.Time) time.Time {
	t = t.In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
}

func checkDuration(minutes int) error {
	if minutes < 0 || minutes > MaxDurationMinutes {
		return invalid("duration must be between 0 and %d minutes", MaxDurationMinutes)
	}
	return nil
}

func effectiveDuration(minutes int, settings engine.CalendarSettings) time.Duration {
	if minutes <= 0 {
		minutes = settings.SlotIntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// GetAvailableSlots returns every slot on date tagged with its bookability.
// A durationMinutes of zero means one slot interval.
func (s *Service) GetAvailableSlots(ctx context.Context, practitionerID uuid.UUID, date time.Time, durationMinutes int) ([]engine.Slot, error) {
	if practitionerID == uuid.Nil {
		return nil, invalid("practitioner id is required")
	}
	if err := checkDuration(durationMinutes); err != nil {
		return nil, err
	}
	settings, err := s.CalendarSettings(ctx, practitionerID)
	if err != nil {
		return nil, err
	}

	day := s.dayStart(date)
	buffer := time.Duration(settings.BufferMinutes) * time.Minute
	from := day.Add(-buffer)
	to := day.AddDate(0, 0, 1).Add(effectiveDuration(durationMinutes, settings) + buffer)
	rows, err := s.appointments.ListActiveInRange(ctx, practitionerID, from, to)
	if err != nil {
		return nil, err
	}

	slots := engine.AvailableSlots(settings, engine.AvailabilityQuery{
		PractitionerID:  practitionerID,
		Date:            day,
		DurationMinutes: durationMinutes,
	}, toEngine(rows))

	open := 0
	for _, sl := range slots {
		if sl.IsAvailable {
			open++
		}
	}
	s.metrics.ObserveAvailability(settings.IsWorkingDay(day.Weekday()), open)
	return slots, nil
}

// -- Booking --

func (s *Service) bookingRequest(in BookingInput) (engine.BookingRequest, error) {
	if in.PractitionerID == uuid.Nil {
		return engine.BookingRequest{}, invalid("practitionerId is required")
	}
	if strings.TrimSpace(in.Time) == "" {
		return engine.BookingRequest{}, invalid("timeOfDay is required")
	}
	if err := checkDuration(in.DurationMinutes); err != nil {
		return engine.BookingRequest{}, err
	}
	day, err := ParseDate(in.Date, s.loc)
	if err != nil {
		return engine.BookingRequest{}, err
	}
	return engine.BookingRequest{
		PractitionerID:  in.PractitionerID,
		Date:            day,
		TimeOfDay:       in.Time,
		DurationMinutes: in.DurationMinutes,
	}, nil
}

// check loads the appointments that could collide with req and runs the
// validator. Called inside a transaction it reads through that transaction.
func (s *Service) check(ctx context.Context, req engine.BookingRequest, settings engine.CalendarSettings) (engine.ValidationResult, error) {
	var existing []engine.Appointment
	if start, err := req.Start(); err == nil {
		buffer := time.Duration(settings.BufferMinutes) * time.Minute
		from := start.Add(-buffer)
		to := start.Add(effectiveDuration(req.DurationMinutes, settings) + buffer)
		rows, err := s.appointments.ListActiveInRange(ctx, req.PractitionerID, from, to)
		if err != nil {
			return engine.ValidationResult{}, err
		}
		existing = toEngine(rows)
	}
	return s.validator.Validate(req, settings, existing), nil
}

// ValidateBooking runs the booking rules without writing anything.
func (s *Service) ValidateBooking(ctx context.Context, in BookingInput) (engine.ValidationResult, error) {
	req, err := s.bookingRequest(in)
	if err != nil {
		return engine.ValidationResult{}, err
	}
	settings, err := s.CalendarSettings(ctx, req.PractitionerID)
	if err != nil {
		return engine.ValidationResult{}, err
	}
	return s.check(ctx, req, settings)
}

func outcome(res engine.ValidationResult) string {
	if res.Accepted {
		return "accepted"
	}
	return string(res.Kind)
}

// BookAppointment validates in against a fresh snapshot and, if accepted,
// re-validates and inserts it while holding the practitioner's booking lock.
// A refused booking is returned as *RejectionError.
func (s *Service) BookAppointment(ctx context.Context, in BookingInput, createdBy string) (*Appointment, error) {
	req, err := s.bookingRequest(in)
	if err != nil {
		return nil, err
	}
	settings, err := s.CalendarSettings(ctx, req.PractitionerID)
	if err != nil {
		return nil, err
	}

	res, err := s.check(ctx, req, settings)
	if err != nil {
		return nil, err
	}
	if !res.Accepted {
		return nil, s.rejected(req, res, false)
	}

	start, _ := req.Start()
	minutes := int(effectiveDuration(req.DurationMinutes, settings) / time.Minute)
	appt := &Appointment{
		PractitionerID:  req.PractitionerID,
		PatientID:       in.PatientID,
		StartTime:       start,
		MinutesDuration: &minutes,
		Status:          StatusBooked,
		AppointmentType: in.AppointmentType,
		Note:            in.Note,
		CreatedBy:       createdBy,
	}

	began := time.Now()
	err = s.tx(ctx, func(ctx context.Context) error {
		if err := s.appointments.LockPractitioner(ctx, req.PractitionerID); err != nil {
			return err
		}
		res, err := s.check(ctx, req, settings)
		if err != nil {
			return err
		}
		if !res.Accepted {
			return &RejectionError{Result: res}
		}
		return s.appointments.Create(ctx, appt)
	})
	s.metrics.ObserveBookingLatency(time.Since(began))
	var rej *RejectionError
	if errors.As(err, &rej) {
		return nil, s.rejected(req, rej.Result, true)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("practitioner_id", req.PractitionerID.String()).Msg("booking failed")
		return nil, fmt.Errorf("book appointment: %w", err)
	}

	s.metrics.ObserveBookingDecision("accepted")
	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("practitioner_id", appt.PractitionerID.String()).
		Time("start", appt.StartTime).
		Int("duration_minutes", minutes).
		Msg("appointment booked")
	return appt, nil
}

func (s *Service) rejected(req engine.BookingRequest, res engine.ValidationResult, inTx bool) error {
	s.metrics.ObserveBookingDecision(outcome(res))
	s.logger.Info().
		Str("practitioner_id", req.PractitionerID.String()).
		Str("rejection", string(res.Kind)).
		Int("conflicts", len(res.Conflicts)).
		Bool("recheck", inTx).
		Msg("booking rejected")
	return &RejectionError{Result: res}
}

// -- Appointments --

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, practitionerID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	if practitionerID == uuid.Nil {
		return nil, 0, invalid("practitioner_id is required")
	}
	return s.appointments.ListByPractitioner(ctx, practitionerID, limit, offset)
}

// CancelAppointment frees the appointment's time. Cancelling twice is a no-op.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason *string) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusCancelled {
		return a, nil
	}
	a, err = s.appointments.Cancel(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("practitioner_id", a.PractitionerID.String()).
		Msg("appointment cancelled")
	return a, nil
}
