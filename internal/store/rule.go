package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pillbox/internal/sched"
)

// encodedRule is the column form of a schedule rule. Only the fields of the
// rule's own variant are populated; the rest stay NULL.
type encodedRule struct {
	kind         string
	times        any
	days         any
	everyMinutes any
	windowStart  any
	windowEnd    any
}

func encodeRule(r sched.Rule) (encodedRule, error) {
	e := encodedRule{kind: string(r.Kind())}
	switch v := r.(type) {
	case sched.DailyRule:
		e.times = encodeTimes(v.Times)
		e.days = encodeDays(v.Days)
	case sched.CustomAlarmsRule:
		e.times = encodeTimes(v.Times)
		e.days = encodeDays(v.Days)
	case sched.WeeklyRule:
		e.times = encodeTimes(v.Times)
		e.days = encodeDays(v.Days)
	case sched.IntervalRule:
		e.everyMinutes = int64(v.Every / time.Minute)
		if v.Window != nil {
			e.windowStart = v.Window.Start.String()
			e.windowEnd = v.Window.End.String()
		}
	case sched.AsNeededRule:
	default:
		return encodedRule{}, fmt.Errorf("unknown rule type %T", r)
	}
	return e, nil
}

func decodeRule(kind string, times, days sql.NullString, every sql.NullInt64, winStart, winEnd sql.NullString) (sched.Rule, error) {
	switch sched.Kind(kind) {
	case sched.KindDaily:
		t, d, err := decodeClock(times, days)
		if err != nil {
			return nil, err
		}
		return sched.DailyRule{Times: t, Days: d}, nil
	case sched.KindCustomAlarms:
		t, d, err := decodeClock(times, days)
		if err != nil {
			return nil, err
		}
		return sched.CustomAlarmsRule{Times: t, Days: d}, nil
	case sched.KindWeekly:
		t, d, err := decodeClock(times, days)
		if err != nil {
			return nil, err
		}
		if len(d) == 0 {
			return nil, fmt.Errorf("weekly schedule without days")
		}
		return sched.WeeklyRule{Times: t, Days: d}, nil
	case sched.KindInterval:
		if !every.Valid || every.Int64 < 1 {
			return nil, fmt.Errorf("interval schedule without a usable interval")
		}
		r := sched.IntervalRule{Every: time.Duration(every.Int64) * time.Minute}
		if winStart.Valid || winEnd.Valid {
			if !winStart.Valid || !winEnd.Valid {
				return nil, fmt.Errorf("interval window needs both bounds")
			}
			ws, err := sched.ParseTimeOfDay(winStart.String)
			if err != nil {
				return nil, err
			}
			we, err := sched.ParseTimeOfDay(winEnd.String)
			if err != nil {
				return nil, err
			}
			r.Window = &sched.DayWindow{Start: ws, End: we}
		}
		return r, nil
	case sched.KindAsNeeded:
		return sched.AsNeededRule{}, nil
	default:
		return nil, fmt.Errorf("unknown schedule kind %q", kind)
	}
}

func decodeClock(times, days sql.NullString) ([]sched.TimeOfDay, []time.Weekday, error) {
	t, err := decodeTimes(times)
	if err != nil {
		return nil, nil, err
	}
	if len(t) == 0 {
		return nil, nil, fmt.Errorf("schedule without times")
	}
	d, err := decodeDays(days)
	if err != nil {
		return nil, nil, err
	}
	return t, d, nil
}

func encodeTimes(times []sched.TimeOfDay) any {
	if len(times) == 0 {
		return nil
	}
	parts := make([]string, len(times))
	for i, t := range times {
		parts[i] = t.String()
	}
	return strings.Join(parts, ",")
}

func decodeTimes(s sql.NullString) ([]sched.TimeOfDay, error) {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return nil, nil
	}
	var out []sched.TimeOfDay
	for _, p := range strings.Split(s.String, ",") {
		t, err := sched.ParseTimeOfDay(p)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func encodeDays(days []time.Weekday) any {
	if len(days) == 0 {
		return nil
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func decodeDays(s sql.NullString) ([]time.Weekday, error) {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return nil, nil
	}
	var out []time.Weekday
	for _, p := range strings.Split(s.String, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("invalid weekday %q", p)
		}
		out = append(out, time.Weekday(n))
	}
	return out, nil
}
