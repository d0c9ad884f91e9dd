package sched

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind discriminates schedule variants.
type Kind string

const (
	KindDaily        Kind = "daily"
	KindWeekly       Kind = "weekly"
	KindInterval     Kind = "interval"
	KindCustomAlarms Kind = "custom_alarms"
	KindAsNeeded     Kind = "as_needed"
)

// TimeOfDay is a wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

// On places the time-of-day on the given day, in that day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, day.Location())
}

// Before reports wall-clock ordering against another time-of-day.
func (t TimeOfDay) Before(o TimeOfDay) bool {
	return t.Hour < o.Hour || (t.Hour == o.Hour && t.Minute < o.Minute)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// Rule is the variant-specific part of a schedule.
//
// There is exactly one concrete rule type per Kind, each carrying only its
// own required fields, so illegal field combinations are unrepresentable.
type Rule interface {
	Kind() Kind
}

// DailyRule fires at fixed wall-clock times every day, optionally
// restricted to a weekday subset.
type DailyRule struct {
	Times []TimeOfDay
	Days  []time.Weekday // empty = every day
}

func (DailyRule) Kind() Kind { return KindDaily }

// WeeklyRule fires at fixed wall-clock times on a required weekday set.
type WeeklyRule struct {
	Times []TimeOfDay
	Days  []time.Weekday // must be non-empty
}

func (WeeklyRule) Kind() Kind { return KindWeekly }

// CustomAlarmsRule carries user-picked alarm times. The expansion semantics
// are the day-grid ones shared with DailyRule; the distinct kind is kept so
// storage and UI can tell the variants apart.
type CustomAlarmsRule struct {
	Times []TimeOfDay
	Days  []time.Weekday // empty = every day
}

func (CustomAlarmsRule) Kind() Kind { return KindCustomAlarms }

// IntervalRule fires every Every, either continuously across day
// boundaries (Window nil) or within a daily window that restarts each day.
type IntervalRule struct {
	Every  time.Duration // whole minutes, >= 1 minute
	Window *DayWindow    // nil = continuous
}

func (IntervalRule) Kind() Kind { return KindInterval }

// DayWindow is the daily active range of a bounded interval rule.
// Occurrences land at Start, Start+Every, ... while at or before End.
type DayWindow struct {
	Start TimeOfDay
	End   TimeOfDay
}

// AsNeededRule never produces automatic occurrences.
type AsNeededRule struct{}

func (AsNeededRule) Kind() Kind { return KindAsNeeded }

// Schedule ties a rule to its owning medication.
type Schedule struct {
	ID           string
	MedicationID string
	Rule         Rule
}

// Interval reports whether the schedule is interval-typed. Downstream
// notification phrasing ("next dose at ...") depends on this.
func (s Schedule) Interval() bool {
	return s.Rule != nil && s.Rule.Kind() == KindInterval
}

// Medication is the scheduling core's read-only view of a medication.
// Start and End are calendar days at midnight in the planner timezone;
// End is inclusive through the end of that day.
type Medication struct {
	ID     string
	Name   string
	Dosage string
	Start  time.Time
	End    *time.Time
}

// Reminder is a persisted occurrence.
type Reminder struct {
	ID             string
	MedicationID   string
	ScheduleID     string
	At             time.Time
	Taken          bool
	TakenAt        *time.Time
	NotificationID string
}

// Occurrence is a computed, not-yet-persisted candidate reminder timestamp.
type Occurrence struct {
	ScheduleID string
	At         time.Time
	Interval   bool
}

// Clock abstracts the ambient current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
