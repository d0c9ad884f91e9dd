package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pillbox/internal/sched"
	logx "pillbox/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const dateLayout = "2006-01-02"

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default

	// Location resolves stored calendar dates to instants. Defaults to
	// time.Local.
	Location *time.Location
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db  *sql.DB
	log logx.Logger
	loc *time.Location
}

// Open opens (creating if needed) the database and applies migrations.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, log: log, loc: cfg.Location}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Medications ----

// SaveMedication upserts a medication, assigning an id when empty.
func (s *Store) SaveMedication(ctx context.Context, m sched.Medication) (sched.Medication, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	var end any
	if m.End != nil {
		end = m.End.Format(dateLayout)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO medications(id, name, dosage, start_date, end_date) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, dosage=excluded.dosage,
		   start_date=excluded.start_date, end_date=excluded.end_date`,
		m.ID, m.Name, m.Dosage, m.Start.Format(dateLayout), end,
	)
	return m, err
}

func (s *Store) Medication(ctx context.Context, id string) (sched.Medication, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, dosage, start_date, end_date FROM medications WHERE id = ?`, id)
	m, err := s.scanMedication(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return sched.Medication{}, sched.ErrNotFound
	}
	return m, err
}

func (s *Store) Medications(ctx context.Context) ([]sched.Medication, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, dosage, start_date, end_date FROM medications ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sched.Medication
	for rows.Next() {
		m, err := s.scanMedication(rows.Scan)
		if err != nil {
			s.log.Warn("skipping malformed medication row", logx.Err(err))
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MedicationIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM medications`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteMedication removes the medication; schedules and reminders cascade.
func (s *Store) DeleteMedication(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM medications WHERE id = ?`, id)
	return err
}

func (s *Store) scanMedication(scan func(...any) error) (sched.Medication, error) {
	var m sched.Medication
	var start string
	var end sql.NullString
	if err := scan(&m.ID, &m.Name, &m.Dosage, &start, &end); err != nil {
		return sched.Medication{}, err
	}
	t, err := time.ParseInLocation(dateLayout, start, s.loc)
	if err != nil {
		return sched.Medication{}, fmt.Errorf("medication %s: bad start_date %q", m.ID, start)
	}
	m.Start = t
	if end.Valid && end.String != "" {
		e, err := time.ParseInLocation(dateLayout, end.String, s.loc)
		if err != nil {
			return sched.Medication{}, fmt.Errorf("medication %s: bad end_date %q", m.ID, end.String)
		}
		m.End = &e
	}
	return m, nil
}

// ---- Schedules ----

// SaveSchedule upserts a schedule, assigning an id when empty.
func (s *Store) SaveSchedule(ctx context.Context, sc sched.Schedule) (sched.Schedule, error) {
	if sc.Rule == nil {
		return sched.Schedule{}, errors.New("schedule rule is required")
	}
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	enc, err := encodeRule(sc.Rule)
	if err != nil {
		return sched.Schedule{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, medication_id, kind, times, days, every_minutes, window_start, window_end)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET medication_id=excluded.medication_id, kind=excluded.kind,
		   times=excluded.times, days=excluded.days, every_minutes=excluded.every_minutes,
		   window_start=excluded.window_start, window_end=excluded.window_end`,
		sc.ID, sc.MedicationID, enc.kind, enc.times, enc.days, enc.everyMinutes, enc.windowStart, enc.windowEnd,
	)
	return sc, err
}

func (s *Store) SchedulesFor(ctx context.Context, medicationID string) ([]sched.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, medication_id, kind, times, days, every_minutes, window_start, window_end
		 FROM schedules WHERE medication_id = ? ORDER BY id`, medicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sched.Schedule
	for rows.Next() {
		var sc sched.Schedule
		var kind string
		var times, days, winStart, winEnd sql.NullString
		var every sql.NullInt64
		if err := rows.Scan(&sc.ID, &sc.MedicationID, &kind, &times, &days, &every, &winStart, &winEnd); err != nil {
			s.log.Warn("skipping malformed schedule row", logx.Err(err))
			continue
		}
		rule, err := decodeRule(kind, times, days, every, winStart, winEnd)
		if err != nil {
			// A broken row must not block the medication's other schedules.
			s.log.Warn("skipping undecodable schedule", logx.String("schedule", sc.ID), logx.Err(err))
			continue
		}
		sc.Rule = rule
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	return err
}

// ---- Reminders ----

func (s *Store) FutureUntaken(ctx context.Context, medicationID string, after time.Time) ([]sched.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, medication_id, schedule_id, remind_at, taken, taken_at, notification_id
		 FROM reminders WHERE medication_id = ? AND taken = 0 AND remind_at > ?
		 ORDER BY remind_at`, medicationID, after.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectReminders(rows), rows.Err()
}

func (s *Store) MostRecentTaken(ctx context.Context, medicationID, scheduleID string) (*sched.Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, medication_id, schedule_id, remind_at, taken, taken_at, notification_id
		 FROM reminders WHERE medication_id = ? AND schedule_id = ? AND taken = 1
		 ORDER BY remind_at DESC LIMIT 1`, medicationID, scheduleID)
	r, err := s.scanReminder(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Insert persists a new reminder and returns its assigned id.
func (s *Store) Insert(ctx context.Context, r sched.Reminder) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.NotificationID == "" {
		// The in-process alarm service keys timers by reminder id.
		r.NotificationID = r.ID
	}
	var takenAt any
	if r.TakenAt != nil {
		takenAt = r.TakenAt.Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(id, medication_id, schedule_id, remind_at, taken, taken_at, notification_id)
		 VALUES(?,?,?,?,?,?,?)`,
		r.ID, r.MedicationID, r.ScheduleID, r.At.Unix(), boolInt(r.Taken), takenAt, r.NotificationID,
	)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *Store) DeleteByID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	return err
}

// MarkTaken marks the reminder taken and returns its medication id so the
// caller can re-trigger reconciliation (a taken dose shifts the anchor of
// continuous-interval schedules). Taken reminders are immutable history;
// marking an already-taken reminder again is a no-op.
func (s *Store) MarkTaken(ctx context.Context, id string, at time.Time) (string, error) {
	var medicationID string
	err := s.db.QueryRowContext(ctx, `SELECT medication_id FROM reminders WHERE id = ?`, id).Scan(&medicationID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sched.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE reminders SET taken = 1, taken_at = ? WHERE id = ? AND taken = 0`, at.Unix(), id)
	return medicationID, err
}

// ArmedReminder carries the delivery context needed to re-arm an alarm
// after a restart.
type ArmedReminder struct {
	sched.Reminder
	MedicationName string
	Dosage         string
	Interval       bool
}

// FutureUntakenAll returns all future untaken reminders across medications
// joined with delivery context, sorted ascending. Used at boot to rebuild
// the in-process alarm timers, which do not survive a restart.
func (s *Store) FutureUntakenAll(ctx context.Context, after time.Time) ([]ArmedReminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.medication_id, r.schedule_id, r.remind_at, r.taken, r.taken_at, r.notification_id,
		        m.name, m.dosage, sc.kind
		 FROM reminders r
		 JOIN medications m ON m.id = r.medication_id
		 JOIN schedules  sc ON sc.id = r.schedule_id
		 WHERE r.taken = 0 AND r.remind_at > ?
		 ORDER BY r.remind_at`, after.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArmedReminder
	for rows.Next() {
		var a ArmedReminder
		var remindAt int64
		var takenAt sql.NullInt64
		var taken int
		var notifID sql.NullString
		var kind string
		if err := rows.Scan(&a.ID, &a.MedicationID, &a.ScheduleID, &remindAt, &taken, &takenAt, &notifID,
			&a.MedicationName, &a.Dosage, &kind); err != nil {
			s.log.Warn("skipping malformed reminder row", logx.Err(err))
			continue
		}
		if remindAt <= 0 {
			s.log.Warn("skipping reminder with unusable timestamp", logx.String("reminder", a.ID))
			continue
		}
		a.At = time.Unix(remindAt, 0).In(s.loc)
		a.Taken = taken != 0
		a.NotificationID = notifID.String
		a.Interval = sched.Kind(kind) == sched.KindInterval
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) collectReminders(rows *sql.Rows) []sched.Reminder {
	var out []sched.Reminder
	for rows.Next() {
		r, err := s.scanReminder(rows.Scan)
		if err != nil {
			// Treated as absent: worst case the occurrence is regenerated,
			// never silently lost.
			s.log.Warn("skipping malformed reminder row", logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *Store) scanReminder(scan func(...any) error) (sched.Reminder, error) {
	var r sched.Reminder
	var remindAt int64
	var takenAt sql.NullInt64
	var taken int
	var notifID sql.NullString
	if err := scan(&r.ID, &r.MedicationID, &r.ScheduleID, &remindAt, &taken, &takenAt, &notifID); err != nil {
		return sched.Reminder{}, err
	}
	if remindAt <= 0 {
		return sched.Reminder{}, fmt.Errorf("reminder %s: unusable remind_at %d", r.ID, remindAt)
	}
	r.At = time.Unix(remindAt, 0).In(s.loc)
	r.Taken = taken != 0
	if takenAt.Valid {
		t := time.Unix(takenAt.Int64, 0).In(s.loc)
		r.TakenAt = &t
	}
	r.NotificationID = notifID.String
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
