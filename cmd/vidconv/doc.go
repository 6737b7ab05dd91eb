// Package main hosts the vidconv CLI.
//
// Commands submit local files as conversion tasks, inspect and cancel tasks,
// download finished outputs with resume support, and run the daemon in the
// foreground. Read-only and cancel commands go through the daemon's HTTP API
// when it is reachable and fall back to the task store otherwise; submit,
// download, and sync always work against storage directly.
package main
