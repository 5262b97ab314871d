package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	engine "github.com/ehr/scheduler/internal/platform/scheduling"
)

// slotsOptions describes an offline availability preview. Booked entries are
// "HH:MM" or "HH:MM/minutes" on the preview date.
type slotsOptions struct {
	Date     string
	Start    string
	End      string
	Interval int
	Buffer   int
	Days     []string
	Duration int
	TZ       string
	Booked   []string
}

func slotsCmd() *cobra.Command {
	def := engine.DefaultCalendarSettings()
	var opts slotsOptions

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Preview the slot grid for a calendar without a database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSlots(cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Date, "date", time.Now().Format("2006-01-02"), "Day to preview (YYYY-MM-DD)")
	f.StringVar(&opts.Start, "start", def.StartTime, "Opening time (HH:MM)")
	f.StringVar(&opts.End, "end", def.EndTime, "Closing time (HH:MM)")
	f.IntVar(&opts.Interval, "interval", def.SlotIntervalMinutes, "Slot interval in minutes")
	f.IntVar(&opts.Buffer, "buffer", def.BufferMinutes, "Buffer minutes around each appointment")
	f.StringSliceVar(&opts.Days, "days", []string{"1", "2", "3", "4", "5"}, "Working days, names or 0-6 indices")
	f.IntVar(&opts.Duration, "duration", 0, "Appointment length in minutes (defaults to the interval)")
	f.StringVar(&opts.TZ, "tz", "UTC", "IANA time zone of the calendar")
	f.StringSliceVar(&opts.Booked, "booked", nil, "Existing appointments as HH:MM or HH:MM/minutes")
	return cmd
}

func runSlots(w io.Writer, opts slotsOptions) error {
	loc, err := time.LoadLocation(opts.TZ)
	if err != nil {
		return fmt.Errorf("--tz: %w", err)
	}
	date, err := time.ParseInLocation("2006-01-02", opts.Date, loc)
	if err != nil {
		return fmt.Errorf("--date: %w", err)
	}
	settings, err := previewSettings(opts)
	if err != nil {
		return err
	}
	existing, err := previewAppointments(date, opts.Booked)
	if err != nil {
		return err
	}

	slots := engine.AvailableSlots(settings, engine.AvailabilityQuery{
		Date:            date,
		DurationMinutes: opts.Duration,
	}, existing)

	working := "working day"
	if !settings.IsWorkingDay(date.Weekday()) {
		working = "not a working day"
	}
	fmt.Fprintf(w, "%s (%s, %s) %s-%s every %dm, buffer %dm\n",
		date.Format("Monday 2006-01-02"), loc, working,
		settings.StartTime, settings.EndTime, settings.SlotIntervalMinutes, settings.BufferMinutes)
	fmt.Fprintf(w, "%-6s %-9s %s\n", "TIME", "LABEL", "AVAILABLE")
	for _, s := range slots {
		avail := "yes"
		if !s.IsAvailable {
			avail = "no"
		}
		fmt.Fprintf(w, "%-6s %-9s %s\n", s.Time, s.Label, avail)
	}
	return nil
}

// previewSettings is stricter than the resolver: a bad flag is an error
// rather than a silent fallback.
func previewSettings(opts slotsOptions) (engine.CalendarSettings, error) {
	start, err := engine.ParseTimeOfDay(opts.Start)
	if err != nil {
		return engine.CalendarSettings{}, fmt.Errorf("--start: %w", err)
	}
	end, err := engine.ParseTimeOfDay(opts.End)
	if err != nil {
		return engine.CalendarSettings{}, fmt.Errorf("--end: %w", err)
	}
	if end <= start {
		return engine.CalendarSettings{}, fmt.Errorf("--end must be after --start")
	}
	if opts.Interval <= 0 {
		return engine.CalendarSettings{}, fmt.Errorf("--interval must be positive")
	}
	if opts.Buffer < 0 {
		return engine.CalendarSettings{}, fmt.Errorf("--buffer must not be negative")
	}

	days := make([]any, 0, len(opts.Days))
	for _, d := range opts.Days {
		if _, ok := engine.ParseWeekday(d); !ok {
			return engine.CalendarSettings{}, fmt.Errorf("--days: unknown weekday %q", d)
		}
		days = append(days, d)
	}

	return engine.NewResolver(engine.DefaultCalendarSettings()).Resolve(&engine.RawSettings{
		StartTime:           opts.Start,
		EndTime:             opts.End,
		SlotIntervalMinutes: opts.Interval,
		BufferMinutes:       opts.Buffer,
		WorkingDays:         days,
	}), nil
}

func previewAppointments(date time.Time, booked []string) ([]engine.Appointment, error) {
	out := make([]engine.Appointment, 0, len(booked))
	for _, b := range booked {
		clock, minutes, hasLen := strings.Cut(b, "/")
		at, err := engine.ParseTimeOfDay(clock)
		if err != nil {
			return nil, fmt.Errorf("--booked: %w", err)
		}
		a := engine.Appointment{Start: engine.AtMinutes(date, at)}
		if hasLen {
			n, err := strconv.Atoi(minutes)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("--booked: invalid duration in %q", b)
			}
			a.DurationMinutes = n
		}
		out = append(out, a)
	}
	return out, nil
}
