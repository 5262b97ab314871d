// Package scheduling computes bookable appointment slots for a practitioner's
// working calendar and validates proposed bookings against it. Everything in
// this package is a pure function of its inputs: no I/O, no shared state.
package scheduling

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultAppointmentMinutes is used for an existing appointment whose
// duration was never recorded.
const DefaultAppointmentMinutes = 60

// CalendarSettings is the canonical, normalized working calendar.
type CalendarSettings struct {
	StartTime           string         `json:"startTime"`
	EndTime             string         `json:"endTime"`
	SlotIntervalMinutes int            `json:"slotIntervalMinutes"`
	BufferMinutes       int            `json:"bufferMinutes"`
	WorkingDays         []time.Weekday `json:"workingDays"`
}

// StartMinutes returns the opening time as minutes after midnight.
func (s CalendarSettings) StartMinutes() int {
	m, _ := ParseTimeOfDay(s.StartTime)
	return m
}

// EndMinutes returns the closing time as minutes after midnight.
func (s CalendarSettings) EndMinutes() int {
	m, _ := ParseTimeOfDay(s.EndTime)
	return m
}

// IsWorkingDay reports whether d is one of the configured working days.
func (s CalendarSettings) IsWorkingDay(d time.Weekday) bool {
	for _, wd := range s.WorkingDays {
		if wd == d {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no memory with s.
func (s CalendarSettings) Clone() CalendarSettings {
	out := s
	out.WorkingDays = append([]time.Weekday(nil), s.WorkingDays...)
	return out
}

// RawSettings is a settings record as stored by the settings editor. Working
// days may be weekday names, 0-6 indices, or a mix of both.
type RawSettings struct {
	StartTime           string `json:"startTime"`
	EndTime             string `json:"endTime"`
	SlotIntervalMinutes int    `json:"slotIntervalMinutes"`
	BufferMinutes       int    `json:"bufferMinutes"`
	WorkingDays         []any  `json:"workingDays"`
}

// DefaultCalendarSettings is 09:00-17:00, Monday to Friday, hourly slots and
// no buffer.
func DefaultCalendarSettings() CalendarSettings {
	return CalendarSettings{
		StartTime:           "09:00",
		EndTime:             "17:00",
		SlotIntervalMinutes: 60,
		BufferMinutes:       0,
		WorkingDays:         weekdaysMonFri(),
	}
}

func weekdaysMonFri() []time.Weekday {
	return []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
}

// Resolver turns raw settings into CalendarSettings, filling gaps from
// Default.
type Resolver struct {
	Default CalendarSettings
}

// NewResolver returns a resolver that falls back to def.
func NewResolver(def CalendarSettings) Resolver {
	return Resolver{Default: def.Clone()}
}

// Resolve normalizes raw. A nil raw yields a copy of the default. Malformed
// fields never fail resolution: unparseable times and non-positive intervals
// take the default's value, unknown weekday entries are dropped, and an empty
// weekday set becomes Monday to Friday.
func (r Resolver) Resolve(raw *RawSettings) CalendarSettings {
	def := r.Default
	if def.SlotIntervalMinutes <= 0 {
		def = DefaultCalendarSettings()
	}
	if raw == nil {
		return def.Clone()
	}

	out := CalendarSettings{
		StartTime:           normalizeClock(raw.StartTime, def.StartTime),
		EndTime:             normalizeClock(raw.EndTime, def.EndTime),
		SlotIntervalMinutes: raw.SlotIntervalMinutes,
		BufferMinutes:       raw.BufferMinutes,
		WorkingDays:         NormalizeWorkingDays(raw.WorkingDays),
	}
	if out.SlotIntervalMinutes <= 0 {
		out.SlotIntervalMinutes = def.SlotIntervalMinutes
	}
	if out.BufferMinutes < 0 {
		out.BufferMinutes = 0
	}
	return out
}

func normalizeClock(v, fallback string) string {
	m, err := ParseTimeOfDay(v)
	if err != nil {
		return fallback
	}
	return FormatTimeOfDay(m)
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// NormalizeWorkingDays converts a mixed list of weekday names and indices to
// a sorted, de-duplicated set of weekdays. Unrecognized entries are dropped;
// an empty result falls back to Monday through Friday.
func NormalizeWorkingDays(entries []any) []time.Weekday {
	seen := make(map[time.Weekday]bool, 7)
	for _, e := range entries {
		if d, ok := ParseWeekday(e); ok {
			seen[d] = true
		}
	}
	if len(seen) == 0 {
		return weekdaysMonFri()
	}
	days := make([]time.Weekday, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

// ParseWeekday accepts a full English weekday name (any case) or a 0-6 index
// given as an integer, an integral float, a json.Number or a numeric string.
func ParseWeekday(v any) (time.Weekday, bool) {
	switch x := v.(type) {
	case time.Weekday:
		return weekdayIndex(int64(x))
	case int:
		return weekdayIndex(int64(x))
	case int32:
		return weekdayIndex(int64(x))
	case int64:
		return weekdayIndex(x)
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return weekdayIndex(int64(x))
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, false
		}
		return weekdayIndex(n)
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		if d, ok := weekdayNames[s]; ok {
			return d, true
		}
		if n, err := strconv.Atoi(s); err == nil {
			return weekdayIndex(int64(n))
		}
	}
	return 0, false
}

func weekdayIndex(n int64) (time.Weekday, bool) {
	if n < 0 || n > 6 {
		return 0, false
	}
	return time.Weekday(n), true
}

// ParseTimeOfDay parses "HH:MM" (hours 0-23, single-digit hours allowed) into
// minutes after midnight.
func ParseTimeOfDay(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	hours, err := strconv.Atoi(h)
	if err != nil || hours < 0 || hours > 23 || len(h) > 2 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minutes, err := strconv.Atoi(m)
	if err != nil || minutes < 0 || minutes > 59 || len(m) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hours*60 + minutes, nil
}

// FormatTimeOfDay renders minutes after midnight as zero-padded "HH:MM".
func FormatTimeOfDay(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
