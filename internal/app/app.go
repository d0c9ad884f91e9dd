// Package app wires the pillbox daemon: config, logging, store, alarm
// service, notifier, keyed runner and the reconciliation triggers.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"pillbox/internal/alarm"
	"pillbox/internal/config"
	"pillbox/internal/eventbus"
	"pillbox/internal/notify"
	"pillbox/internal/sched"
	"pillbox/internal/store"
	"pillbox/internal/task"
	logx "pillbox/pkg/logx"
)

type App struct {
	cfgPath string
	cfg     config.Config

	logSvc *logx.Service
	log    logx.Logger
	clock  sched.Clock

	store    *store.Store
	bus      eventbus.Bus
	alarms   *alarm.Service
	orch     *sched.Orchestrator
	runner   *task.Runner
	cron     *cron.Cron
	telegram *notify.Telegram

	unsubBus func()
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	return &App{
		cfgPath: cfgPath,
		cfg:     cfg,
		logSvc:  logSvc,
		log:     log,
		clock:   sched.SystemClock{},
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	busyTimeout, _ := config.ParseDurationField("storage.busy_timeout", a.cfg.Storage.BusyTimeout)
	st, err := store.Open(store.Config{
		Path:        a.cfg.Storage.Path,
		BusyTimeout: busyTimeout,
		Location:    a.cfg.Location(),
	}, a.log.With(logx.String("comp", "store")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = st

	a.bus = eventbus.New()

	var notifier alarm.Notifier = notify.LogNotifier{Log: a.log.With(logx.String("comp", "notify"))}
	if a.cfg.Telegram != nil {
		pollTimeout, _ := config.ParseDurationField("telegram.poll_timeout", a.cfg.Telegram.PollTimeout)
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:       a.cfg.Telegram.Token,
			ChatID:      a.cfg.Telegram.ChatID,
			RatePerSec:  a.cfg.Telegram.RatePerSec,
			PollTimeout: pollTimeout,
		}, a.bus, a.clock, a.log.With(logx.String("comp", "telegram")))
		if err != nil {
			return fmt.Errorf("telegram notifier: %w", err)
		}
		a.telegram = tg
		notifier = tg
	}

	a.alarms = alarm.New(notifier, a.clock, a.log.With(logx.String("comp", "alarm")))
	a.orch = sched.NewOrchestrator(st, st, st, a.alarms, a.clock, a.log.With(logx.String("comp", "sched")))

	jobTimeout, _ := config.ParseDurationOrDefault("runner.job_timeout", a.cfg.Runner.JobTimeout, 30*time.Second)
	a.runner = task.New(task.Config{
		Workers:    a.cfg.Runner.Workers,
		QueueSize:  a.cfg.Runner.QueueSize,
		JobTimeout: jobTimeout,
	}, a.log.With(logx.String("comp", "runner")))
	a.runner.Start(ctx)

	if a.telegram != nil {
		a.telegram.Start(ctx)
	}
	a.watchBus(ctx)

	// Boot: rebuild in-memory alarms for already-persisted reminders, then
	// reconcile every medication so the projection horizon is full.
	if err := a.rearmAlarms(ctx); err != nil {
		return fmt.Errorf("rearm alarms: %w", err)
	}
	a.sweepAll(ctx)

	tick, err := a.cfg.TickInterval()
	if err != nil {
		return err
	}
	a.cron = cron.New(cron.WithLocation(a.cfg.Location()))
	a.cron.Schedule(cron.Every(tick), cron.FuncJob(func() { a.sweepAll(ctx) }))
	a.cron.Start()

	go func() {
		err := config.Watch(ctx, a.cfgPath, a.log.With(logx.String("comp", "config")), a.applyConfig)
		if err != nil {
			a.log.Warn("config watcher unavailable", logx.Err(err))
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("pillbox started",
		logx.Duration("tick", tick),
		logx.Bool("telegram", a.telegram != nil),
	)
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.cron != nil {
		stopCtx := a.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}
	if a.unsubBus != nil {
		a.unsubBus()
	}
	if a.runner != nil {
		a.runner.Stop(ctx)
	}
	if a.alarms != nil {
		a.alarms.Stop()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("pillbox stopped")
	return a.logSvc.Close()
}

// EnqueueMedication triggers reconciliation for one medication (CRUD edits
// call this after writing).
func (a *App) EnqueueMedication(ctx context.Context, medicationID string) error {
	return a.runner.Enqueue(medicationID, func(jctx context.Context) error {
		return a.orch.Run(jctx, medicationID)
	})
}

// sweepAll reconciles every known medication. Safe to call at any
// frequency: reconciliation is idempotent and the runner collapses
// redundant queued runs per medication.
func (a *App) sweepAll(ctx context.Context) {
	ids, err := a.store.MedicationIDs(ctx)
	if err != nil {
		a.log.Error("sweep: listing medications failed", logx.Err(err))
		return
	}
	for _, id := range ids {
		if err := a.EnqueueMedication(ctx, id); err != nil {
			a.log.Warn("sweep: enqueue failed", logx.String("med", id), logx.Err(err))
		}
	}
	a.log.Debug("sweep enqueued", logx.Int("medications", len(ids)))
}

// rearmAlarms rebuilds the in-process timers from persisted reminders.
// Matched reminders are untouched by reconciliation, so without this a
// restart would leave them silent.
func (a *App) rearmAlarms(ctx context.Context) error {
	armed, err := a.store.FutureUntakenAll(ctx, a.clock.Now())
	if err != nil {
		return err
	}
	for i, r := range armed {
		al := sched.Alarm{
			ReminderID:     r.ID,
			MedicationName: r.MedicationName,
			Dosage:         r.Dosage,
			Interval:       r.Interval,
			FiresAt:        r.At,
		}
		if r.Interval {
			// armed is globally sorted by time; the next same-schedule entry
			// is this reminder's follow-up.
			for _, n := range armed[i+1:] {
				if n.ScheduleID == r.ScheduleID && n.At.After(r.At) {
					nextAt := n.At
					al.NextAt = &nextAt
					break
				}
			}
		}
		if err := a.alarms.Schedule(ctx, al); err != nil {
			return err
		}
	}
	a.log.Info("alarms rearmed", logx.Int("count", len(armed)))
	return nil
}

// watchBus routes dose-taken acknowledgements: mark the reminder taken,
// then re-enqueue its medication so continuous-interval schedules re-anchor.
func (a *App) watchBus(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(32)
	a.unsubBus = unsub
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Type != notify.EventDoseTaken {
					continue
				}
				dt, ok := ev.Data.(notify.DoseTaken)
				if !ok {
					continue
				}
				a.onDoseTaken(ctx, dt)
			}
		}
	}()
}

func (a *App) onDoseTaken(ctx context.Context, dt notify.DoseTaken) {
	medicationID, err := a.store.MarkTaken(ctx, dt.ReminderID, dt.At)
	if err != nil {
		a.log.Warn("mark taken failed", logx.String("reminder", dt.ReminderID), logx.Err(err))
		return
	}
	_ = a.alarms.CancelAll(ctx, dt.ReminderID)
	if err := a.EnqueueMedication(ctx, medicationID); err != nil {
		a.log.Warn("re-enqueue after dose failed", logx.String("med", medicationID), logx.Err(err))
	}
	a.log.Info("dose taken", logx.String("reminder", dt.ReminderID), logx.String("med", medicationID))
}

// applyConfig handles hot-reloadable settings. Only the logging section is
// applied live; storage/telegram/runner changes need a restart.
func (a *App) applyConfig(cfg config.Config) {
	a.cfg.Logging = cfg.Logging
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
}
