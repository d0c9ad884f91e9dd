// Package store persists medications, schedules and reminders in SQLite.
//
// It implements the narrow store interfaces consumed by internal/sched and
// owns the write paths the engine does not (medication/schedule CRUD and
// marking doses taken). Deleting a medication cascades to its schedules
// and reminders.
package store
