// Command vidconvd runs the vidconv daemon: the workflow driver that converts
// queued files and the HTTP API the CLI talks to. It exits on SIGINT or
// SIGTERM; files in flight are reclaimed by heartbeat expiry on next start.
package main
