// Package api is the task-facing service layer shared by the CLI and the
// daemon's HTTP surface.
//
// TaskService submits tasks (uploading sources into blob storage), lists and
// describes them with progress computed on read, and records downloads.
// Converters turn queue models into camelCase JSON DTOs so transport code
// never touches internal types.
//
// Owners only ever see their own tasks: a task owned by someone else reads
// as absent.
package api
