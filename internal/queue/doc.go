// Package queue persists conversion tasks and their files in SQLite and
// defines the task/file state model the workflow driver moves them through.
//
// A Task groups the files of one submission. Files are created pending and
// advance pending -> converting -> verifying -> completed|failed; the task
// status is derived from its files by Aggregate once every file is terminal.
// All mutations are single-statement conditional updates so concurrent
// workers never read-modify-write a shared record.
package queue
