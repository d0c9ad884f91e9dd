package sched

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"
)

// Generate computes the ideal occurrence set for one schedule within
// [windowStart, windowEnd). It is pure and deterministic: no I/O, no
// ambient clock.
//
// anchor is the origin of a continuous interval sequence: the last taken
// dose when one exists, otherwise the medication's start. Steps before
// windowStart are skipped but still advance the sequence arithmetic, so a
// missed dose never warps later timestamps. Other variants ignore anchor.
//
// Degenerate schedules (zero interval, inverted daily window, empty time
// set) yield an empty result rather than an error: a broken schedule row
// must not take down a whole reconciliation run.
func Generate(s Schedule, windowStart, windowEnd time.Time, anchor time.Time) []Occurrence {
	if s.Rule == nil || !windowStart.Before(windowEnd) {
		return nil
	}

	var at []time.Time
	switch r := s.Rule.(type) {
	case DailyRule:
		at = clockTimes(r.Times, r.Days, false, windowStart, windowEnd)
	case CustomAlarmsRule:
		at = clockTimes(r.Times, r.Days, false, windowStart, windowEnd)
	case WeeklyRule:
		if len(r.Days) == 0 {
			return nil
		}
		at = clockTimes(r.Times, r.Days, true, windowStart, windowEnd)
	case IntervalRule:
		at = intervalTimes(r, windowStart, windowEnd, anchor)
	case AsNeededRule:
		return nil
	default:
		return nil
	}
	if len(at) == 0 {
		return nil
	}

	sort.Slice(at, func(i, j int) bool { return at[i].Before(at[j]) })

	interval := s.Interval()
	out := make([]Occurrence, 0, len(at))
	for _, t := range at {
		t = t.Truncate(time.Minute)
		// Duplicate minutes collapse: the diff key downstream is
		// (schedule, minute) and two reminders for it would violate it.
		if n := len(out); n > 0 && out[n-1].At.Equal(t) {
			continue
		}
		out = append(out, Occurrence{ScheduleID: s.ID, At: t, Interval: interval})
	}
	return out
}

// clockTimes expands day-grid variants: one occurrence per time-of-day on
// every permitted calendar day intersecting the window.
func clockTimes(times []TimeOfDay, days []time.Weekday, weekly bool, ws, we time.Time) []time.Time {
	var out []time.Time
	for _, tod := range times {
		if !tod.Valid() {
			continue
		}
		opt := rrule.ROption{
			Freq: rrule.DAILY,
			// Dtstart before the window so the first in-window day is covered.
			Dtstart: tod.On(StartOfDay(ws).AddDate(0, 0, -7)),
		}
		if weekly {
			opt.Freq = rrule.WEEKLY
		}
		if len(days) > 0 {
			opt.Byweekday = rruleWeekdays(days)
		}
		r, err := rrule.NewRRule(opt)
		if err != nil {
			continue
		}
		out = append(out, r.Between(ws, we.Add(-time.Second), true)...)
	}
	return out
}

// intervalTimes expands interval variants.
func intervalTimes(r IntervalRule, ws, we time.Time, anchor time.Time) []time.Time {
	step := r.Every.Truncate(time.Minute)
	if step < time.Minute || step != r.Every {
		return nil
	}

	if r.Window == nil {
		// Continuous: a single sequence anchored off anchor, rolling across
		// day boundaries. FREQ=MINUTELY with DTSTART=anchor encodes the
		// anchor-not-now rule directly: Between never re-bases onto ws.
		if anchor.IsZero() {
			anchor = StartOfDay(ws)
		}
		rr, err := rrule.NewRRule(rrule.ROption{
			Freq:     rrule.MINUTELY,
			Interval: int(step / time.Minute),
			Dtstart:  anchor.Truncate(time.Minute),
		})
		if err != nil {
			return nil
		}
		return rr.Between(ws, we.Add(-time.Second), true)
	}

	// Bounded: every calendar day restarts independently from Window.Start;
	// steps land at or before Window.End of the same day. An RRULE cannot
	// express a sub-day cycle that resets at midnight, so this is walked
	// by hand.
	if !r.Window.Start.Valid() || !r.Window.End.Valid() || r.Window.End.Before(r.Window.Start) {
		return nil
	}
	var out []time.Time
	for day := StartOfDay(ws); day.Before(we); day = day.AddDate(0, 0, 1) {
		last := r.Window.End.On(day)
		for t := r.Window.Start.On(day); !t.After(last); t = t.Add(step) {
			if !t.Before(ws) && t.Before(we) {
				out = append(out, t)
			}
		}
	}
	return out
}

func rruleWeekdays(days []time.Weekday) []rrule.Weekday {
	m := map[time.Weekday]rrule.Weekday{
		time.Monday:    rrule.MO,
		time.Tuesday:   rrule.TU,
		time.Wednesday: rrule.WE,
		time.Thursday:  rrule.TH,
		time.Friday:    rrule.FR,
		time.Saturday:  rrule.SA,
		time.Sunday:    rrule.SU,
	}
	out := make([]rrule.Weekday, 0, len(days))
	for _, d := range days {
		if w, ok := m[d]; ok {
			out = append(out, w)
		}
	}
	return out
}
