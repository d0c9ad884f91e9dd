package sched

import "time"

// Horizon is the projection depth: occurrences are materialized at most
// this far ahead of now. Deep enough that the next days of reminders exist
// no matter how often the orchestrator runs, small enough to bound
// reconciliation cost.
const Horizon = 48 * time.Hour

// ResolveWindow clamps the generation window to the medication's active
// date range and the rolling horizon.
//
//	start = max(now, start date at 00:00)
//	end   = min(now + Horizon, day after end date at 00:00)
//
// ok is false when the window is empty (e.g. the medication already ended);
// the generator must not be invoked then.
func ResolveWindow(m Medication, now time.Time) (start, end time.Time, ok bool) {
	start = now
	if sd := StartOfDay(m.Start); sd.After(start) {
		start = sd
	}
	end = now.Add(Horizon)
	if m.End != nil {
		// End date is inclusive: the exclusive bound is the next midnight.
		if e := StartOfDay(*m.End).AddDate(0, 0, 1); e.Before(end) {
			end = e
		}
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
