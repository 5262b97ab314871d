package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ehr/scheduler/internal/config"
	"github.com/ehr/scheduler/internal/domain/scheduling"
	"github.com/ehr/scheduler/internal/platform/auth"
	"github.com/ehr/scheduler/internal/platform/db"
	"github.com/ehr/scheduler/internal/platform/middleware"
	engine "github.com/ehr/scheduler/internal/platform/scheduling"
	"github.com/ehr/scheduler/internal/platform/telemetry"
)

const testSigningKey = "test-signing-key"

type testServer struct {
	e       *echo.Echo
	mock    pgxmock.PgxPoolIface
	entries []middleware.AuditEntry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		mock.Close()
	})

	cfg := &config.Config{
		Env:            "test",
		AuthSigningKey: testSigningKey,
		CORSOrigins:    []string{"http://localhost:3000"},
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		RequestTimeout: 5 * time.Second,
	}
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewSchedulingMetrics(reg)
	svc := scheduling.NewService(
		scheduling.NewSettingsRepoPG(mock),
		scheduling.NewAppointmentRepoPG(mock),
		nil,
		scheduling.ServiceConfig{
			DefaultCalendar: engine.DefaultCalendarSettings(),
			Metrics:         metrics,
			Logger:          zerolog.Nop(),
		},
	)

	ts := &testServer{mock: mock}
	ts.e = newRouter(routerDeps{
		cfg:      cfg,
		logger:   zerolog.Nop(),
		db:       mock,
		svc:      svc,
		metrics:  metrics,
		gatherer: reg,
		audit: middleware.AuditRecorderFunc(func(entry middleware.AuditEntry) error {
			ts.entries = append(ts.entries, entry)
			return nil
		}),
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	claims := auth.Claims{Roles: roles}
	claims.Subject = subject
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + signed
}

func TestRouter_Health(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != version {
		t.Errorf("unexpected body %v", body)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on public endpoints")
	}
}

func TestRouter_HealthDB(t *testing.T) {
	ts := newTestServer(t)

	ts.mock.ExpectPing()
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/health/db", nil)); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	ts.mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health/db", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unhealthy") {
		t.Errorf("expected unhealthy status, got %s", rec.Body.String())
	}
}

func TestRouter_Metrics(t *testing.T) {
	ts := newTestServer(t)
	ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `route="/health"`) {
		t.Errorf("expected request metrics for /health, got:\n%s", rec.Body.String())
	}
}

func TestRouter_APIRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments/available-slots?date=2025-01-06&practitionerId="+uuid.NewString(), nil)
	if rec := ts.do(req); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/appointments/available-slots", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	if rec := ts.do(req); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a malformed token, got %d", rec.Code)
	}
}

func TestRouter_AvailableSlotsEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	pid := uuid.New()

	ts.mock.ExpectQuery("FROM calendar_settings").WithArgs(pid).WillReturnError(pgx.ErrNoRows)
	ts.mock.ExpectQuery(`status <> 'cancelled'`).
		WithArgs(pid, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "practitioner_id", "patient_id", "start_time", "minutes_duration", "status",
			"appointment_type", "note", "cancellation_reason", "created_by", "created_at", "updated_at"}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments/available-slots?date=2025-01-06&practitionerId="+pid.String(), nil)
	req.Header.Set("Authorization", bearer(t, "patient-1", auth.RolePatient))
	rec := ts.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var slots []struct {
		Time        string `json:"time"`
		IsAvailable bool   `json:"isAvailable"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &slots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(slots) != 8 || slots[0].Time != "09:00" || !slots[0].IsAvailable {
		t.Errorf("expected the default 8 open hourly slots, got %+v", slots)
	}

	if len(ts.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(ts.entries))
	}
	entry := ts.entries[0]
	if entry.UserID != "patient-1" || entry.PractitionerID != pid.String() || entry.StatusCode != http.StatusOK {
		t.Errorf("unexpected audit entry %+v", entry)
	}
}

func TestRunSlots(t *testing.T) {
	var out bytes.Buffer
	err := runSlots(&out, slotsOptions{
		Date:     "2025-01-06",
		Start:    "09:00",
		End:      "12:00",
		Interval: 30,
		Buffer:   10,
		Days:     []string{"Monday", "2"},
		TZ:       "UTC",
		Booked:   []string{"10:00/30"},
	})
	if err != nil {
		t.Fatalf("runSlots: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Monday 2025-01-06 (UTC, working day)",
		"09:00  9:00 AM   yes",
		"09:30  9:30 AM   no",
		"10:00  10:00 AM  no",
		"10:30  10:30 AM  no",
		"11:00  11:00 AM  yes",
		"11:30  11:30 AM  yes",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in output:\n%s", want, got)
		}
	}
}

func TestRunSlots_NonWorkingDay(t *testing.T) {
	var out bytes.Buffer
	err := runSlots(&out, slotsOptions{
		Date: "2025-01-11", Start: "09:00", End: "10:00", Interval: 60,
		Days: []string{"1", "2", "3", "4", "5"}, TZ: "UTC",
	})
	if err != nil {
		t.Fatalf("runSlots: %v", err)
	}
	if !strings.Contains(out.String(), "not a working day") || !strings.Contains(out.String(), "09:00  9:00 AM   no") {
		t.Errorf("expected Saturday slots to be unavailable:\n%s", out.String())
	}
}

func TestRunSlots_RejectsBadFlags(t *testing.T) {
	base := slotsOptions{Date: "2025-01-06", Start: "09:00", End: "17:00", Interval: 30, TZ: "UTC"}
	tests := []struct {
		name   string
		modify func(*slotsOptions)
		want   string
	}{
		{"bad tz", func(o *slotsOptions) { o.TZ = "Mars/Olympus" }, "--tz"},
		{"bad date", func(o *slotsOptions) { o.Date = "06/01/2025" }, "--date"},
		{"bad start", func(o *slotsOptions) { o.Start = "9am" }, "--start"},
		{"end before start", func(o *slotsOptions) { o.End = "08:00" }, "--end"},
		{"zero interval", func(o *slotsOptions) { o.Interval = 0 }, "--interval"},
		{"negative buffer", func(o *slotsOptions) { o.Buffer = -5 }, "--buffer"},
		{"unknown day", func(o *slotsOptions) { o.Days = []string{"Funday"} }, "--days"},
		{"bad booking", func(o *slotsOptions) { o.Booked = []string{"10:00/abc"} }, "--booked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.modify(&opts)
			err := runSlots(&bytes.Buffer{}, opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "production")
	logger.Info().Str("k", "v").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON log line, got %q", buf.String())
	}
	if line["message"] != "hello" || line["k"] != "v" {
		t.Errorf("unexpected log line %v", line)
	}

	buf.Reset()
	logger = newLogger(&buf, "development")
	logger.Info().Msg("hello")
	if json.Valid(buf.Bytes()) {
		t.Error("expected console output in development")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migs, err := db.NewMigrator(nil, migrationSource("")).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migs) < 2 || migs[0].Name != "001_scheduling.sql" || migs[1].Name != "002_access_log.sql" {
		t.Errorf("unexpected embedded migrations %+v", migs)
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	at := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	printMigrationStatus(&out, "public", []db.MigrationStatus{
		{Version: 1, Name: "001_scheduling.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_access_log.sql", Applied: true, Modified: true, AppliedAt: &at},
		{Version: 3, Name: "003_next.sql"},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected header plus 3 rows, got:\n%s", out.String())
	}
	for i, want := range []string{"applied    2025-01-06 09:00:00", "modified", "pending"} {
		if !strings.Contains(lines[3+i], want) {
			t.Errorf("row %d: expected %q in %q", i+1, want, lines[3+i])
		}
	}
}
