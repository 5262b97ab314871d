// Package telemetry exposes Prometheus metrics for the scheduler: HTTP request
// latency plus the booking and availability counters the front desk dashboards
// are built on.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SchedulingMetrics is nil-safe: every method is a no-op on a nil receiver.
type SchedulingMetrics struct {
	requestDuration   *prometheus.HistogramVec
	bookingDecisions  *prometheus.CounterVec
	availabilityTotal *prometheus.CounterVec
	slotsReturned     prometheus.Histogram
	bookingLatency    prometheus.Histogram
	settingsCache     *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scheduler",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		bookingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "booking",
			Name:      "decisions_total",
			Help:      "Booking validation outcomes by result",
		}, []string{"outcome"}),
		availabilityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "availability",
			Name:      "queries_total",
			Help:      "Available-slot queries by whether the day is a working day",
		}, []string{"working_day"}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scheduler",
			Subsystem: "availability",
			Name:      "open_slots",
			Help:      "Number of open slots returned per availability query",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		bookingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scheduler",
			Subsystem: "booking",
			Name:      "commit_seconds",
			Help:      "Time spent in the locked validate-and-insert transaction",
			Buckets:   prometheus.DefBuckets,
		}),
		settingsCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "settings",
			Name:      "cache_lookups_total",
			Help:      "Calendar settings cache lookups by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestDuration, m.bookingDecisions, m.availabilityTotal,
		m.slotsReturned, m.bookingLatency, m.settingsCache)
	return m
}

// ObserveBookingDecision counts one validation outcome, e.g. "accepted" or a
// rejection kind.
func (m *SchedulingMetrics) ObserveBookingDecision(outcome string) {
	if m == nil {
		return
	}
	m.bookingDecisions.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveAvailability(workingDay bool, openSlots int) {
	if m == nil {
		return
	}
	m.availabilityTotal.WithLabelValues(strconv.FormatBool(workingDay)).Inc()
	m.slotsReturned.Observe(float64(openSlots))
}

func (m *SchedulingMetrics) ObserveBookingLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.bookingLatency.Observe(d.Seconds())
}

func (m *SchedulingMetrics) ObserveSettingsCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.settingsCache.WithLabelValues(result).Inc()
}

// Middleware records request latency keyed by the registered route, not the
// raw path, to keep label cardinality bounded.
func (m *SchedulingMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.requestDuration.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the Prometheus exposition format for g.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
