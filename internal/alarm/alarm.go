// Package alarm arms in-process timers for persisted reminders and hands
// fired ones to a Notifier. Timers live only in memory; the app re-arms
// them from the store at boot.
package alarm

import (
	"context"
	"sync"
	"time"

	"pillbox/internal/sched"
	logx "pillbox/pkg/logx"
)

const deliverTimeout = 30 * time.Second

// Notifier delivers a fired alarm to the user.
type Notifier interface {
	Deliver(ctx context.Context, a sched.Alarm) error
}

// Service implements sched.AlarmScheduler with versioned time.Timer
// upserts keyed by reminder id. Re-scheduling a reminder replaces its
// timer; a stale callback from a replaced timer is ignored by version
// check.
type Service struct {
	log      logx.Logger
	clock    sched.Clock
	notifier Notifier

	mu     sync.Mutex
	timers map[string]*time.Timer
	ver    map[string]uint64
	closed bool
}

func New(notifier Notifier, clock sched.Clock, log logx.Logger) *Service {
	if clock == nil {
		clock = sched.SystemClock{}
	}
	return &Service{
		log:      log,
		clock:    clock,
		notifier: notifier,
		timers:   make(map[string]*time.Timer),
		ver:      make(map[string]uint64),
	}
}

// Schedule arms (or re-arms) the alarm for a reminder. An alarm whose
// fire time already passed fires immediately rather than being dropped:
// a delayed reminder still beats a lost one.
func (s *Service) Schedule(_ context.Context, a sched.Alarm) error {
	delay := a.FiresAt.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if t, ok := s.timers[a.ReminderID]; ok {
		_ = t.Stop()
	}
	// Bump version so callbacks from a replaced timer become no-ops.
	ver := s.ver[a.ReminderID] + 1
	s.ver[a.ReminderID] = ver
	s.timers[a.ReminderID] = time.AfterFunc(delay, func() { s.fire(a, ver) })
	s.mu.Unlock()

	s.log.Debug("alarm armed",
		logx.String("reminder", a.ReminderID),
		logx.Time("fires_at", a.FiresAt),
		logx.Duration("in", delay),
	)
	return nil
}

// CancelAll disarms the alarm for a reminder. Unknown ids are fine; the
// reconciler cancels before delete without checking whether a timer exists.
func (s *Service) CancelAll(_ context.Context, reminderID string) error {
	s.mu.Lock()
	if t, ok := s.timers[reminderID]; ok {
		_ = t.Stop()
		delete(s.timers, reminderID)
	}
	delete(s.ver, reminderID)
	s.mu.Unlock()
	return nil
}

// Stop disarms everything. Persisted reminders are untouched; the next
// boot re-arms them.
func (s *Service) Stop() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		_ = t.Stop()
		delete(s.timers, id)
	}
	s.ver = make(map[string]uint64)
	s.mu.Unlock()
}

func (s *Service) fire(a sched.Alarm, ver uint64) {
	s.mu.Lock()
	if s.closed || s.ver[a.ReminderID] != ver {
		s.mu.Unlock()
		return
	}
	delete(s.timers, a.ReminderID)
	delete(s.ver, a.ReminderID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := s.notifier.Deliver(ctx, a); err != nil {
		s.log.Error("alarm delivery failed",
			logx.String("reminder", a.ReminderID),
			logx.String("medication", a.MedicationName),
			logx.Err(err),
		)
		return
	}
	s.log.Info("alarm delivered",
		logx.String("reminder", a.ReminderID),
		logx.String("medication", a.MedicationName),
	)
}
