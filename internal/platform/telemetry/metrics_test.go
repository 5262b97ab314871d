package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSchedulingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveBookingDecision("accepted")
	m.ObserveBookingDecision("accepted")
	m.ObserveBookingDecision("SchedulingConflict")
	m.ObserveAvailability(true, 12)
	m.ObserveAvailability(false, 0)
	m.ObserveBookingLatency(15 * time.Millisecond)
	m.ObserveSettingsCache(true)
	m.ObserveSettingsCache(false)

	if got := testutil.ToFloat64(m.bookingDecisions.WithLabelValues("accepted")); got != 2 {
		t.Errorf("expected 2 accepted decisions, got %v", got)
	}
	if got := testutil.ToFloat64(m.bookingDecisions.WithLabelValues("SchedulingConflict")); got != 1 {
		t.Errorf("expected 1 conflict decision, got %v", got)
	}
	if got := testutil.ToFloat64(m.availabilityTotal.WithLabelValues("false")); got != 1 {
		t.Errorf("expected 1 non-working-day query, got %v", got)
	}
	if got := testutil.ToFloat64(m.settingsCache.WithLabelValues("hit")); got != 1 {
		t.Errorf("expected 1 cache hit, got %v", got)
	}
}

func TestSchedulingMetricsNilSafe(t *testing.T) {
	var m *SchedulingMetrics
	m.ObserveBookingDecision("accepted")
	m.ObserveAvailability(true, 3)
	m.ObserveBookingLatency(time.Second)
	m.ObserveSettingsCache(false)

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if err := m.Middleware()(func(c echo.Context) error { return nil })(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMiddlewareRecordsRouteAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil), httptest.NewRecorder())
	c.SetPath("/api/v1/appointments")

	err := m.Middleware()(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "taken")
	})(c)
	if err == nil {
		t.Fatal("expected handler error to propagate")
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/boom", nil), httptest.NewRecorder())
	_ = m.Middleware()(func(c echo.Context) error { return errors.New("boom") })(c)

	if n := testutil.CollectAndCount(m.requestDuration); n != 2 {
		t.Errorf("expected 2 request series, got %d", n)
	}
	expected := `scheduler_http_request_duration_seconds_count{method="POST",route="/api/v1/appointments",status="409"} 1`
	body := scrape(t, reg)
	if !strings.Contains(body, expected) {
		t.Errorf("expected %q in exposition:\n%s", expected, body)
	}
	if !strings.Contains(body, `route="unmatched",status="500"`) {
		t.Error("expected unmatched route with status 500")
	}
}

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/metrics", nil), rec)
	if err := Handler(reg)(c); err != nil {
		t.Fatalf("scrape: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}
	return rec.Body.String()
}
