// Package workflow drives pending files through transcode, scoring, and the
// quality gate.
//
// The Manager polls the store for pending files of runnable tasks, claims
// them in arrival order, and hands each to a worker slot bounded by
// max_concurrency. A worker owns one file for its whole lifecycle: submit,
// poll to completion, score, gate, and either escalate to the next preset,
// settle on a best-effort attempt, or fail. Transient transcoder failures
// are retried on the same preset up to max_retries. Workers check for task
// cancellation between steps and stamp heartbeats so a crashed daemon's work
// is reclaimed on the next start.
//
// Task status is recomputed from file statuses after every file transition;
// terminal task statuses are written through conditional transitions so
// exactly one worker settles a task and emits its notification.
package workflow
