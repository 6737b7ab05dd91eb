package queue

import (
	"errors"
	"fmt"
)

// ErrNonTerminalFile is returned by Aggregate when a file is still in flight.
var ErrNonTerminalFile = errors.New("file status is not terminal")

// Aggregate rolls terminal file statuses up into the task status. An empty
// list is a failure by convention.
func Aggregate(statuses []FileStatus) (TaskStatus, error) {
	if len(statuses) == 0 {
		return TaskFailed, nil
	}
	completed, failed := 0, 0
	for _, status := range statuses {
		switch status {
		case FileCompleted:
			completed++
		case FileFailed:
			failed++
		default:
			return "", fmt.Errorf("%w: %s", ErrNonTerminalFile, status)
		}
	}
	switch {
	case completed == len(statuses):
		return TaskCompleted, nil
	case failed == len(statuses):
		return TaskFailed, nil
	default:
		return TaskPartiallyCompleted, nil
	}
}

// InFlightStatus returns the non-terminal task status implied by its files:
// converting while any file is converting or pending behind a started one,
// verifying when only verifying work remains. ok is false when every file is
// terminal.
func InFlightStatus(statuses []FileStatus) (TaskStatus, bool) {
	converting, verifying, pending := false, false, false
	for _, status := range statuses {
		switch status {
		case FileConverting:
			converting = true
		case FileVerifying:
			verifying = true
		case FilePending:
			pending = true
		}
	}
	switch {
	case converting || (pending && verifying):
		return TaskConverting, true
	case verifying:
		return TaskVerifying, true
	case pending:
		return TaskConverting, true
	default:
		return "", false
	}
}
