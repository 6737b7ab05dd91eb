// Package progress computes a task's percentage and current step from its
// file statuses on every read. Nothing here is stored as ground truth.
//
// Calculate accepts an optional live lookup for converting files; Simple is
// the same computation without it, so both agree whenever no converting file
// has a job to query.
package progress
