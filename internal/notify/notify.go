// Package notify turns fired alarms into user-facing messages.
//
// The Telegram notifier is the real delivery path; the log notifier is the
// fallback when no bot is configured, so the engine can run headless.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pillbox/internal/sched"
	logx "pillbox/pkg/logx"
)

// EventDoseTaken is published on the event bus when the user acknowledges
// a dose from a delivered notification.
const EventDoseTaken = "dose.taken"

// DoseTaken is the payload of EventDoseTaken.
type DoseTaken struct {
	ReminderID string
	At         time.Time
}

// Text renders the notification body for a fired alarm.
func Text(a sched.Alarm) string {
	var b strings.Builder
	b.WriteString("Time to take ")
	b.WriteString(a.MedicationName)
	if strings.TrimSpace(a.Dosage) != "" {
		fmt.Fprintf(&b, " (%s)", a.Dosage)
	}
	b.WriteString(".")
	if a.Interval && a.NextAt != nil {
		fmt.Fprintf(&b, " Next dose at %s.", formatNext(a.FiresAt, *a.NextAt))
	}
	return b.String()
}

func formatNext(fired, next time.Time) string {
	if sched.StartOfDay(fired).Equal(sched.StartOfDay(next)) {
		return next.Format("15:04")
	}
	return next.Format("Jan 2 15:04")
}

// LogNotifier writes fired alarms to the log.
type LogNotifier struct {
	Log logx.Logger
}

func (n LogNotifier) Deliver(_ context.Context, a sched.Alarm) error {
	n.Log.Info("dose reminder",
		logx.String("reminder", a.ReminderID),
		logx.String("text", Text(a)),
	)
	return nil
}
