// Package logging assembles structured slog loggers and formatting helpers used
// across vidconv.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so workflow code automatically
// tags log lines with task IDs, file IDs, stages, and correlation IDs. The
// package also provides a no-op logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so new components
// emit records with the same shape as the rest of the system.
package logging
