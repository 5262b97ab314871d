package scheduling

import "time"

// SlotTime is one candidate start time on a given day.
type SlotTime struct {
	Time    string    // "HH:MM"
	Label   string    // "9:00 AM"
	Minutes int       // minutes after midnight
	Start   time.Time // absolute instant on the requested date
}

// GenerateSlots returns the candidate start times for date, stepping by the
// slot interval from opening time while the start is before closing time. A
// slot whose duration runs past closing is still produced. Working days are
// not consulted here.
func GenerateSlots(settings CalendarSettings, date time.Time) []SlotTime {
	interval := settings.SlotIntervalMinutes
	start, end := settings.StartMinutes(), settings.EndMinutes()
	if interval <= 0 || end <= start {
		return nil
	}

	slots := make([]SlotTime, 0, (end-start+interval-1)/interval)
	for m := start; m < end; m += interval {
		at := AtMinutes(date, m)
		slots = append(slots, SlotTime{
			Time:    FormatTimeOfDay(m),
			Label:   at.Format("3:04 PM"),
			Minutes: m,
			Start:   at,
		})
	}
	return slots
}

// AtMinutes returns the wall-clock instant minutes after midnight on date's
// calendar day, in date's location.
func AtMinutes(date time.Time, minutes int) time.Time {
	y, mo, d := date.Date()
	return time.Date(y, mo, d, minutes/60, minutes%60, 0, 0, date.Location())
}
