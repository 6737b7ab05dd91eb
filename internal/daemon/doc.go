// Package daemon coordinates the long-running vidconv process.
//
// It wires the workflow driver, cancellation coordinator, and task service
// into a single lifecycle guarded by a flock-based lock file so only one
// daemon drives a state directory. Preflight checks run at start and their
// failures are logged rather than fatal.
//
// The daemon also serves a small JSON API (status, task listing, task
// detail, cancellation) with optional bearer-token authentication. Keep
// conversion logic in the workflow package; this package owns startup,
// shutdown, and the HTTP surface.
package daemon
