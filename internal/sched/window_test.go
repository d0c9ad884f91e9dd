package sched

import (
	"testing"
	"time"
)

func TestResolveWindow(t *testing.T) {
	t.Parallel()

	end := ts(t, "2024-03-11T00:00")
	tests := []struct {
		name      string
		med       Medication
		now       time.Time
		wantStart string
		wantEnd   string
		wantOK    bool
	}{
		{
			name:      "open ended starts at now",
			med:       Medication{Start: ts(t, "2024-03-01T00:00")},
			now:       ts(t, "2024-03-10T07:00"),
			wantStart: "2024-03-10T07:00",
			wantEnd:   "2024-03-12T07:00",
			wantOK:    true,
		},
		{
			name:      "future start clamps window start",
			med:       Medication{Start: ts(t, "2024-03-11T15:30")},
			now:       ts(t, "2024-03-10T07:00"),
			wantStart: "2024-03-11T00:00",
			wantEnd:   "2024-03-12T07:00",
			wantOK:    true,
		},
		{
			name:      "end date clamps window end",
			med:       Medication{Start: ts(t, "2024-03-01T00:00"), End: &end},
			now:       ts(t, "2024-03-10T07:00"),
			wantStart: "2024-03-10T07:00",
			wantEnd:   "2024-03-12T00:00",
			wantOK:    true,
		},
		{
			name:   "course already over",
			med:    Medication{Start: ts(t, "2024-03-01T00:00"), End: &end},
			now:    ts(t, "2024-03-12T09:00"),
			wantOK: false,
		},
		{
			name:   "start beyond horizon",
			med:    Medication{Start: ts(t, "2024-03-20T00:00")},
			now:    ts(t, "2024-03-10T07:00"),
			wantOK: false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			start, wend, ok := ResolveWindow(tt.med, tt.now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got := start.Format("2006-01-02T15:04"); got != tt.wantStart {
				t.Fatalf("start = %s, want %s", got, tt.wantStart)
			}
			if got := wend.Format("2006-01-02T15:04"); got != tt.wantEnd {
				t.Fatalf("end = %s, want %s", got, tt.wantEnd)
			}
		})
	}
}

// The end date is inclusive as a calendar day: doses on the last day still
// happen, the first occurrence of the following day does not.
func TestEndDateCoversWholeLastDay(t *testing.T) {
	t.Parallel()
	end := ts(t, "2024-03-11T00:00")
	med := Medication{Start: ts(t, "2024-03-10T00:00"), End: &end}
	now := ts(t, "2024-03-10T07:00")

	ws, we, ok := ResolveWindow(med, now)
	if !ok {
		t.Fatal("expected a non-empty window")
	}
	s := Schedule{ID: "s1", Rule: IntervalRule{Every: 6 * time.Hour}}
	got := Generate(s, ws, we, ts(t, "2024-03-10T08:00"))
	wantTimes(t, got,
		"2024-03-10T08:00", "2024-03-10T14:00", "2024-03-10T20:00",
		"2024-03-11T02:00", "2024-03-11T08:00", "2024-03-11T14:00", "2024-03-11T20:00",
	)
}
