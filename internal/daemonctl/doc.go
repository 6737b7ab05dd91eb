// Package daemonctl is the CLI side of the daemon's HTTP API.
//
// Client wraps the status, task listing, task detail, and cancel endpoints,
// attaches the bearer token when one is configured, and maps connection
// failures to ErrDaemonNotRunning so commands can fall back to reading the
// task store directly.
package daemonctl
