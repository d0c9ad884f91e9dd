// Package task runs keyed jobs on a small worker pool with single-flight
// semantics per key.
//
// At most one job per key is ever in flight; a job enqueued while another
// for the same key is still waiting replaces the waiting one. Jobs for
// different keys run in parallel. The scheduling engine routes every
// reconciliation trigger (boot, tick, dose taken, edits) through this
// runner keyed by medication id.
package task
