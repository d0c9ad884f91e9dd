package sched

import (
	"testing"
	"time"
)

// ts parses a local-format timestamp in UTC for test readability.
func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.ParseInLocation("2006-01-02T15:04", s, time.UTC)
	if err != nil {
		t.Fatalf("bad test timestamp %q: %v", s, err)
	}
	return v
}

func occTimes(occ []Occurrence) []string {
	out := make([]string, len(occ))
	for i, o := range occ {
		out[i] = o.At.Format("2006-01-02T15:04")
	}
	return out
}

func wantTimes(t *testing.T, got []Occurrence, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d occurrences %v, want %d %v", len(got), occTimes(got), len(want), want)
	}
	for i, w := range want {
		if g := got[i].At.Format("2006-01-02T15:04"); g != w {
			t.Fatalf("occurrence %d = %s, want %s (all: %v)", i, g, w, occTimes(got))
		}
	}
}

func TestContinuousIntervalKeepsAnchor(t *testing.T) {
	t.Parallel()
	s := Schedule{ID: "s1", Rule: IntervalRule{Every: 6 * time.Hour}}
	anchor := ts(t, "2024-03-10T08:00")
	// Engine runs an hour before the anchor; 48h window.
	start := ts(t, "2024-03-10T07:00")
	end := start.Add(48 * time.Hour)

	got := Generate(s, start, end, anchor)
	wantTimes(t, got,
		"2024-03-10T08:00", "2024-03-10T14:00", "2024-03-10T20:00",
		"2024-03-11T02:00", "2024-03-11T08:00", "2024-03-11T14:00", "2024-03-11T20:00",
		"2024-03-12T02:00",
	)
	// Nothing may be derived from now+interval (07:00+6h = 13:00).
	for _, o := range got {
		if o.At.Equal(ts(t, "2024-03-10T13:00")) {
			t.Fatal("occurrence re-anchored to now")
		}
		if !o.Interval {
			t.Fatal("interval occurrences must carry the interval flag")
		}
	}
}

func TestMissedDoseDoesNotDrift(t *testing.T) {
	t.Parallel()
	s := Schedule{ID: "s1", Rule: IntervalRule{Every: 4 * time.Hour}}
	anchor := ts(t, "2024-03-10T09:00")
	// 09:00 was missed; engine runs at 10:00.
	start := ts(t, "2024-03-10T10:00")

	got := Generate(s, start, start.Add(5*time.Hour), anchor)
	wantTimes(t, got, "2024-03-10T13:00")
}

func TestContinuousIntervalCrossesMidnight(t *testing.T) {
	t.Parallel()
	s := Schedule{ID: "s1", Rule: IntervalRule{Every: 8 * time.Hour}}
	anchor := ts(t, "2024-03-10T18:00")
	start := anchor

	got := Generate(s, start, start.Add(24*time.Hour), anchor)
	wantTimes(t, got, "2024-03-10T18:00", "2024-03-11T02:00", "2024-03-11T10:00")
}

func TestContinuousIntervalAnchorSecondsTruncated(t *testing.T) {
	t.Parallel()
	s := Schedule{ID: "s1", Rule: IntervalRule{Every: time.Hour}}
	anchor := ts(t, "2024-03-10T08:00").Add(45 * time.Second)
	start := ts(t, "2024-03-10T08:00")

	got := Generate(s, start, start.Add(2*time.Hour), anchor)
	wantTimes(t, got, "2024-03-10T08:00", "2024-03-10T09:00")
}

func TestBoundedIntervalRestartsEachDay(t *testing.T) {
	t.Parallel()
	s := Schedule{ID: "s1", Rule: IntervalRule{
		Every:  5 * time.Hour,
		Window: &DayWindow{Start: TimeOfDay{Hour: 8}, End: TimeOfDay{Hour: 20}},
	}}
	start := ts(t, "2024-03-10T00:00")

	got := Generate(s, start, start.Add(48*time.Hour), time.Time{})
	wantTimes(t, got,
		"2024-03-10T08:00", "2024-03-10T13:00", "2024-03-10T18:00",
		"2024-03-11T08:00", "2024-03-11T13:00", "2024-03-11T18:00",
	)
}

func TestBoundedIntervalWindowStartDoesNotShiftAnchor(t *testing.T) {
	t.Parallel()
	s := Schedule{ID: "s1", Rule: IntervalRule{
		Every:  5 * time.Hour,
		Window: &DayWindow{Start: TimeOfDay{Hour: 8}, End: TimeOfDay{Hour: 20}},
	}}
	// Generation window opens mid-day; the daily cycle still starts at 08:00.
	start := ts(t, "2024-03-10T14:00")

	got := Generate(s, start, start.Add(24*time.Hour), time.Time{})
	wantTimes(t, got, "2024-03-10T18:00", "2024-03-11T08:00", "2024-03-11T13:00")
}

func TestDailyTimes(t *testing.T) {
	t.Parallel()
	s := Schedule{ID: "s1", Rule: DailyRule{
		Times: []TimeOfDay{{Hour: 8, Minute: 30}, {Hour: 21, Minute: 15}},
	}}
	start := ts(t, "2024-03-10T00:00")

	got := Generate(s, start, start.Add(48*time.Hour), time.Time{})
	wantTimes(t, got,
		"2024-03-10T08:30", "2024-03-10T21:15",
		"2024-03-11T08:30", "2024-03-11T21:15",
	)
	for _, o := range got {
		if o.Interval {
			t.Fatal("daily occurrences must not carry the interval flag")
		}
	}
}

func TestDailyWeekdaySubset(t *testing.T) {
	t.Parallel()
	// 2024-03-10 is a Sunday.
	s := Schedule{ID: "s1", Rule: DailyRule{
		Times: []TimeOfDay{{Hour: 9}},
		Days:  []time.Weekday{time.Monday, time.Tuesday},
	}}
	start := ts(t, "2024-03-10T00:00")

	got := Generate(s, start, start.Add(72*time.Hour), time.Time{})
	wantTimes(t, got, "2024-03-11T09:00", "2024-03-12T09:00")
}

func TestWeekly(t *testing.T) {
	t.Parallel()
	s := Schedule{ID: "s1", Rule: WeeklyRule{
		Times: []TimeOfDay{{Hour: 9}},
		Days:  []time.Weekday{time.Monday},
	}}
	start := ts(t, "2024-03-10T00:00")

	got := Generate(s, start, start.AddDate(0, 0, 14), time.Time{})
	wantTimes(t, got, "2024-03-11T09:00", "2024-03-18T09:00")
}

func TestCustomAlarms(t *testing.T) {
	t.Parallel()
	s := Schedule{ID: "s1", Rule: CustomAlarmsRule{
		Times: []TimeOfDay{{Hour: 7, Minute: 45}},
	}}
	start := ts(t, "2024-03-10T00:00")

	got := Generate(s, start, start.Add(24*time.Hour), time.Time{})
	wantTimes(t, got, "2024-03-10T07:45")
}

func TestWindowBoundariesAreHalfOpen(t *testing.T) {
	t.Parallel()
	s := Schedule{ID: "s1", Rule: DailyRule{Times: []TimeOfDay{{Hour: 8}}}}
	start := ts(t, "2024-03-10T08:00")
	end := ts(t, "2024-03-11T08:00")

	// Start inclusive, end exclusive.
	got := Generate(s, start, end, time.Time{})
	wantTimes(t, got, "2024-03-10T08:00")
}

func TestDegenerateSchedulesAreEmpty(t *testing.T) {
	t.Parallel()
	start := ts(t, "2024-03-10T00:00")
	end := start.Add(48 * time.Hour)

	tests := []struct {
		name string
		rule Rule
	}{
		{name: "as needed", rule: AsNeededRule{}},
		{name: "zero interval", rule: IntervalRule{}},
		{name: "sub-minute interval", rule: IntervalRule{Every: 90 * time.Second}},
		{name: "inverted window", rule: IntervalRule{
			Every:  time.Hour,
			Window: &DayWindow{Start: TimeOfDay{Hour: 20}, End: TimeOfDay{Hour: 8}},
		}},
		{name: "weekly without days", rule: WeeklyRule{Times: []TimeOfDay{{Hour: 9}}}},
		{name: "daily without times", rule: DailyRule{}},
		{name: "invalid time of day", rule: DailyRule{Times: []TimeOfDay{{Hour: 24}}}},
		{name: "nil rule", rule: nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Generate(Schedule{ID: "s1", Rule: tt.rule}, start, end, time.Time{})
			if len(got) != 0 {
				t.Fatalf("expected empty set, got %v", occTimes(got))
			}
		})
	}
}

func TestEmptyWindowIsEmpty(t *testing.T) {
	t.Parallel()
	s := Schedule{ID: "s1", Rule: DailyRule{Times: []TimeOfDay{{Hour: 8}}}}
	start := ts(t, "2024-03-10T00:00")
	if got := Generate(s, start, start, time.Time{}); len(got) != 0 {
		t.Fatalf("expected empty set for empty window, got %v", occTimes(got))
	}
}

func TestDuplicateTimesCollapse(t *testing.T) {
	t.Parallel()
	s := Schedule{ID: "s1", Rule: DailyRule{
		Times: []TimeOfDay{{Hour: 8}, {Hour: 8}},
	}}
	start := ts(t, "2024-03-10T00:00")
	got := Generate(s, start, start.Add(24*time.Hour), time.Time{})
	wantTimes(t, got, "2024-03-10T08:00")
}
