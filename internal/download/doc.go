// Package download fetches converted outputs to the local machine.
//
// Tracker persists per-file byte offsets so an interrupted transfer resumes
// from its staging file, and reconciles that local state against the task
// store. Downloader verifies each transfer, marks the file downloaded, and
// removes the remote copy.
package download
