package hipaa

import (
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"

	"github.com/ehr/scheduler/internal/platform/middleware"
)

func TestAccessLog_RecordAccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	ts := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	entry := middleware.AuditEntry{
		Timestamp:      ts,
		RequestID:      "req-1",
		UserID:         "user-1",
		UserRoles:      []string{"registrar", "nurse"},
		Action:         "create",
		Resource:       "appointments",
		PractitionerID: "p-1",
		Method:         "POST",
		Path:           "/api/v1/appointments",
		IPAddress:      "10.0.0.1",
		UserAgent:      "test",
		StatusCode:     201,
	}

	mock.ExpectExec("INSERT INTO access_log").
		WithArgs(ts, "req-1", "user-1", "registrar,nurse", "create", "appointments", "", "p-1", "",
			"POST", "/api/v1/appointments", "10.0.0.1", "test", 201).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := NewAccessLog(mock).RecordAccess(entry); err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAccessLog_RecordAccessError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO access_log").WillReturnError(errors.New("disk full"))

	err = NewAccessLog(mock).RecordAccess(middleware.AuditEntry{Method: "GET", Path: "/api/v1/appointments"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestAccessLog_SatisfiesRecorder(t *testing.T) {
	var _ middleware.AuditRecorder = (*AccessLog)(nil)
}
