package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ehr/scheduler/internal/platform/db"
)

// =========== Calendar Settings Repository ===========

type settingsRepoPG struct{ pool db.Querier }

func NewSettingsRepoPG(pool db.Querier) SettingsRepository { return &settingsRepoPG{pool: pool} }

func (r *settingsRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const settingsCols = `practitioner_id, start_time, end_time, slot_interval_minutes,
	buffer_minutes, working_days, updated_at`

func (r *settingsRepoPG) Get(ctx context.Context, practitionerID uuid.UUID) (*CalendarSettingsRecord, error) {
	var rec CalendarSettingsRecord
	var days []byte
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+settingsCols+` FROM calendar_settings WHERE practitioner_id = $1`, practitionerID).
		Scan(&rec.PractitionerID, &rec.StartTime, &rec.EndTime, &rec.SlotIntervalMinutes,
			&rec.BufferMinutes, &days, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar settings: %w", err)
	}
	rec.WorkingDays = append([]byte(nil), days...)
	return &rec, nil
}

func (r *settingsRepoPG) Upsert(ctx context.Context, rec *CalendarSettingsRecord) error {
	days := []byte(rec.WorkingDays)
	if len(days) == 0 {
		days = []byte(`[]`)
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO calendar_settings (practitioner_id, start_time, end_time, slot_interval_minutes,
			buffer_minutes, working_days)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (practitioner_id) DO UPDATE SET
			start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time,
			slot_interval_minutes = EXCLUDED.slot_interval_minutes,
			buffer_minutes = EXCLUDED.buffer_minutes, working_days = EXCLUDED.working_days,
			updated_at = NOW()
		RETURNING updated_at`,
		rec.PractitionerID, rec.StartTime, rec.EndTime, rec.SlotIntervalMinutes,
		rec.BufferMinutes, days).Scan(&rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert calendar settings: %w", err)
	}
	return nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool db.Querier }

func NewAppointmentRepoPG(pool db.Querier) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, practitioner_id, patient_id, start_time, minutes_duration, status,
	appointment_type, note, cancellation_reason, created_by, created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PractitionerID, &a.PatientID, &a.StartTime, &a.MinutesDuration, &a.Status,
		&a.AppointmentType, &a.Note, &a.CancellationReason, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusBooked
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, practitioner_id, patient_id, start_time, minutes_duration, status,
			appointment_type, note, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		a.ID, a.PractitionerID, a.PatientID, a.StartTime, a.MinutesDuration, a.Status,
		a.AppointmentType, a.Note, a.CreatedBy).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

// Appointments without a recorded duration count as an hour, matching the
// engine's default.
const activeInRangeSQL = `SELECT ` + apptCols + ` FROM appointment
	WHERE practitioner_id = $1 AND status <> 'cancelled'
		AND start_time < $3
		AND start_time + make_interval(mins => CASE WHEN minutes_duration > 0 THEN minutes_duration ELSE 60 END) > $2
	ORDER BY start_time`

func (r *appointmentRepoPG) ListActiveInRange(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, activeInRangeSQL, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments in range: %w", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) ListByPractitioner(ctx context.Context, practitionerID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE practitioner_id = $1`, practitionerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment WHERE practitioner_id = $1 ORDER BY start_time DESC LIMIT $2 OFFSET $3`, practitionerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) Cancel(ctx context.Context, id uuid.UUID, reason *string) (*Appointment, error) {
	a, err := r.scanAppt(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET status = 'cancelled', cancellation_reason = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+apptCols, id, reason))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) LockPractitioner(ctx context.Context, practitionerID uuid.UUID) error {
	if _, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, practitionerID.String()); err != nil {
		return fmt.Errorf("lock practitioner calendar: %w", err)
	}
	return nil
}
