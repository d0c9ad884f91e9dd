// Package sched is the recurring-reminder scheduling engine.
//
// Given a medication's dosing schedule it computes which future timestamps
// should produce a dose reminder (Generate), bounds that projection to the
// medication's active range and a rolling 48h horizon (ResolveWindow),
// diffs the ideal set against persisted reminders (Reconcile), and applies
// the diff through narrow store/alarm collaborators (Orchestrator).
//
// Generate and Reconcile are pure; all time is taken from an injected Clock
// so the whole engine is deterministic under test. Re-running the engine
// with unchanged inputs is a no-op (idempotent by construction).
package sched
