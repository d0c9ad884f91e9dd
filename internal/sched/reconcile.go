package sched

import (
	"strconv"
	"time"
)

// Diff is the outcome of reconciling the ideal occurrence set against the
// persisted future, untaken reminders of the same schedule.
type Diff struct {
	Insert []Occurrence
	Delete []Reminder
}

func (d Diff) Empty() bool { return len(d.Insert) == 0 && len(d.Delete) == 0 }

// Reconcile computes a two-way diff keyed by (schedule, minute-truncated
// timestamp).
//
//   - Insert: ideal occurrences with no matching persisted reminder.
//   - Delete: persisted reminders no longer considered ideal (stale).
//   - Matched pairs are left untouched: no update, no re-notification.
//
// Running Reconcile twice with unchanged inputs therefore yields an empty
// diff. The caller must pass only future, untaken reminders; taken doses
// are history and never eligible for staleness cleanup.
func Reconcile(ideal []Occurrence, existing []Reminder) Diff {
	have := make(map[string]bool, len(existing))
	for _, r := range existing {
		have[diffKey(r.ScheduleID, r.At)] = true
	}
	want := make(map[string]bool, len(ideal))
	for _, o := range ideal {
		want[diffKey(o.ScheduleID, o.At)] = true
	}

	var d Diff
	for _, o := range ideal {
		if !have[diffKey(o.ScheduleID, o.At)] {
			d.Insert = append(d.Insert, o)
		}
	}
	for _, r := range existing {
		if !want[diffKey(r.ScheduleID, r.At)] {
			d.Delete = append(d.Delete, r)
		}
	}
	return d
}

// diffKey is the occurrence identity used for matching. Minute truncation
// keeps independently-computed "same" timestamps from drifting apart on
// sub-minute arithmetic.
func diffKey(scheduleID string, at time.Time) string {
	return scheduleID + "@" + strconv.FormatInt(at.Truncate(time.Minute).Unix(), 10)
}
