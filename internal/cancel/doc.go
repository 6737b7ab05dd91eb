// Package cancel stops a task on behalf of its owner: it moves the task to
// cancelled, cancels transcode jobs that are still running, and removes every
// object the task wrote to blob storage.
package cancel
