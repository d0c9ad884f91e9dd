package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	logx "pillbox/pkg/logx"
)

// ErrNotFound is returned by stores when an entity does not exist.
var ErrNotFound = errors.New("not found")

// MedicationStore reads medications. Returns ErrNotFound when absent.
type MedicationStore interface {
	Medication(ctx context.Context, id string) (Medication, error)
}

// ScheduleStore reads the schedules owned by a medication.
type ScheduleStore interface {
	SchedulesFor(ctx context.Context, medicationID string) ([]Schedule, error)
}

// ReminderStore persists reminders.
type ReminderStore interface {
	// FutureUntaken returns the untaken reminders for the medication with
	// At strictly after the given instant, sorted ascending.
	FutureUntaken(ctx context.Context, medicationID string, after time.Time) ([]Reminder, error)
	// MostRecentTaken returns the latest taken reminder for the schedule,
	// or nil when no dose was ever taken.
	MostRecentTaken(ctx context.Context, medicationID, scheduleID string) (*Reminder, error)
	// Insert persists a new reminder and returns its assigned id.
	Insert(ctx context.Context, r Reminder) (string, error)
	DeleteByID(ctx context.Context, id string) error
}

// Alarm is the delivery request handed to the alarm scheduler.
type Alarm struct {
	ReminderID     string
	MedicationName string
	Dosage         string
	Interval       bool
	// NextAt is the occurrence following this one, set for interval
	// schedules so the delivered notification can show "next dose at ...".
	NextAt  *time.Time
	FiresAt time.Time
}

// AlarmScheduler arms and cancels delivery for persisted reminders.
type AlarmScheduler interface {
	Schedule(ctx context.Context, a Alarm) error
	CancelAll(ctx context.Context, reminderID string) error
}

// Orchestrator drives generate -> reconcile -> apply for one medication.
type Orchestrator struct {
	meds      MedicationStore
	schedules ScheduleStore
	reminders ReminderStore
	alarms    AlarmScheduler
	clock     Clock
	log       logx.Logger
}

func NewOrchestrator(meds MedicationStore, schedules ScheduleStore, reminders ReminderStore, alarms AlarmScheduler, clock Clock, log logx.Logger) *Orchestrator {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Orchestrator{meds: meds, schedules: schedules, reminders: reminders, alarms: alarms, clock: clock, log: log}
}

// Run reconciles all schedules of one medication.
//
// A missing medication or an empty schedule list is an expected transient
// state (concurrent delete) and aborts quietly. Store or alarm failures
// propagate; no rollback is attempted because the next run re-derives the
// correct state from scratch.
//
// Callers must serialize Run per medication id (see internal/task): two
// concurrent runs could both see the same missing occurrence and
// double-insert it.
func (o *Orchestrator) Run(ctx context.Context, medicationID string) error {
	med, err := o.meds.Medication(ctx, medicationID)
	if errors.Is(err, ErrNotFound) {
		o.log.Debug("medication vanished; skipping", logx.String("med", medicationID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load medication: %w", err)
	}

	schedules, err := o.schedules.SchedulesFor(ctx, medicationID)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	if len(schedules) == 0 {
		o.log.Debug("no schedules; skipping", logx.String("med", medicationID))
		return nil
	}

	now := o.clock.Now()

	// Fetched once, shared across schedules: per-schedule slices are cut
	// from this set during reconcile.
	existing, err := o.reminders.FutureUntaken(ctx, medicationID, now)
	if err != nil {
		return fmt.Errorf("load reminders: %w", err)
	}

	for _, s := range schedules {
		if err := o.runSchedule(ctx, med, s, now, existing); err != nil {
			return fmt.Errorf("schedule %s: %w", s.ID, err)
		}
	}
	return nil
}

func (o *Orchestrator) runSchedule(ctx context.Context, med Medication, s Schedule, now time.Time, existing []Reminder) error {
	start, end, ok := ResolveWindow(med, now)
	if !ok {
		return nil
	}

	anchor, err := o.resolveAnchor(ctx, med, s)
	if err != nil {
		return err
	}

	ideal := Generate(s, start, end, anchor)

	var mine []Reminder
	for _, r := range existing {
		if r.ScheduleID == s.ID {
			mine = append(mine, r)
		}
	}

	diff := Reconcile(ideal, mine)
	if diff.Empty() {
		return nil
	}

	// Insertions strictly before deletions: a schedule edit must never
	// leave a moment with zero armed alarms for this medication.
	for _, occ := range diff.Insert {
		r := Reminder{
			MedicationID: med.ID,
			ScheduleID:   s.ID,
			At:           occ.At,
		}
		id, err := o.reminders.Insert(ctx, r)
		if err != nil {
			return fmt.Errorf("insert reminder at %s: %w", occ.At.Format(time.RFC3339), err)
		}
		a := Alarm{
			ReminderID:     id,
			MedicationName: med.Name,
			Dosage:         med.Dosage,
			Interval:       occ.Interval,
			FiresAt:        occ.At,
		}
		if occ.Interval {
			a.NextAt = nextAfter(ideal, occ.At)
		}
		if err := o.alarms.Schedule(ctx, a); err != nil {
			return fmt.Errorf("arm alarm for %s: %w", id, err)
		}
	}
	for _, r := range diff.Delete {
		if err := o.alarms.CancelAll(ctx, r.ID); err != nil {
			return fmt.Errorf("cancel alarm for %s: %w", r.ID, err)
		}
		if err := o.reminders.DeleteByID(ctx, r.ID); err != nil {
			return fmt.Errorf("delete reminder %s: %w", r.ID, err)
		}
	}

	o.log.Debug("schedule reconciled",
		logx.String("med", med.ID),
		logx.String("schedule", s.ID),
		logx.Int("ideal", len(ideal)),
		logx.Int("inserted", len(diff.Insert)),
		logx.Int("deleted", len(diff.Delete)),
	)
	return nil
}

// resolveAnchor decides the continuous-interval sequence origin: the last
// taken dose when one exists, otherwise the medication's start day. The
// sequence is never re-anchored to now.
func (o *Orchestrator) resolveAnchor(ctx context.Context, med Medication, s Schedule) (time.Time, error) {
	r, ok := s.Rule.(IntervalRule)
	if !ok || r.Window != nil {
		return time.Time{}, nil
	}
	last, err := o.reminders.MostRecentTaken(ctx, med.ID, s.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("load last taken dose: %w", err)
	}
	if last == nil {
		return StartOfDay(med.Start), nil
	}
	if last.TakenAt != nil {
		return *last.TakenAt, nil
	}
	return last.At, nil
}

// nextAfter returns the first occurrence strictly after at, from the
// already-computed sorted ideal set. Never recomputed.
func nextAfter(ideal []Occurrence, at time.Time) *time.Time {
	for _, o := range ideal {
		if o.At.After(at) {
			t := o.At
			return &t
		}
	}
	return nil
}
