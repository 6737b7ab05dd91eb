// Package services defines shared utilities consumed by the workflow driver
// and the external collaborators it talks to.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, file IDs, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can tell
//     storage, timeout, and configuration failures apart with errors.Is.
//
// Use these helpers when wiring new collaborators so error handling and
// observability stay uniform across the pipeline.
package services
