// Package notifications delivers workflow events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when notifications are disabled.
// Enumerated event types cover task outcomes and driver errors so workflow
// code can emit consistent messages without duplicating HTTP glue.
package notifications
