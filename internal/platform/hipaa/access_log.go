// Package hipaa persists the access trail for scheduling data. Appointment
// slots name patients and practitioners, so every API access is recorded.
package hipaa

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ehr/scheduler/internal/platform/db"
	"github.com/ehr/scheduler/internal/platform/middleware"
)

// AccessLog writes audit entries to the access_log table.
type AccessLog struct {
	pool    db.Querier
	timeout time.Duration
}

// NewAccessLog returns a recorder backed by pool. Each insert gets its own
// short deadline since the request context is already finished by then.
func NewAccessLog(pool db.Querier) *AccessLog {
	return &AccessLog{pool: pool, timeout: 2 * time.Second}
}

const insertAccessLog = `
	INSERT INTO access_log (
		recorded_at, request_id, user_id, user_roles, action, resource, resource_id,
		practitioner_id, patient_id, method, path, ip_address, user_agent, status_code
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

// RecordAccess implements middleware.AuditRecorder.
func (l *AccessLog) RecordAccess(entry middleware.AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := l.pool.Exec(ctx, insertAccessLog,
		entry.Timestamp, entry.RequestID, entry.UserID, strings.Join(entry.UserRoles, ","),
		entry.Action, entry.Resource, entry.ResourceID, entry.PractitionerID, entry.PatientID,
		entry.Method, entry.Path, entry.IPAddress, entry.UserAgent, entry.StatusCode)
	if err != nil {
		return fmt.Errorf("insert access log: %w", err)
	}
	return nil
}
