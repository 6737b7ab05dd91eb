package transcoder

import (
	"context"
	"fmt"
	"strings"

	"vidconv/internal/quality"
)

// State is the lifecycle position of a transcode job.
type State string

const (
	StateSubmitted   State = "submitted"
	StateProgressing State = "progressing"
	StateComplete    State = "complete"
	StateError       State = "error"
)

// Active reports whether the job may still produce output.
func (s State) Active() bool {
	return s == StateSubmitted || s == StateProgressing
}

// Request describes one encode of a stored source object.
type Request struct {
	TaskID       string
	FileID       string
	SourceKey    string
	OutputPrefix string
	Preset       quality.Preset
}

// Status is a point-in-time view of a job.
type Status struct {
	State        State
	Percent      int
	ErrorCode    int
	ErrorMessage string
	// OutputKey is set once State is StateComplete.
	OutputKey string
}

// Err returns the job failure carried by an error status, or nil.
func (s Status) Err() error {
	if s.State != StateError {
		return nil
	}
	return &JobError{Code: s.ErrorCode, Message: s.ErrorMessage}
}

// Transcoder is the encode backend used by the workflow.
type Transcoder interface {
	Submit(ctx context.Context, req Request) (string, error)
	Status(ctx context.Context, jobID string) (Status, error)
	// Cancel stops a job. Unknown and already finished jobs are not an error.
	Cancel(ctx context.Context, jobID string) error
}

// JobError is a failure reported by the backend for a specific job.
type JobError struct {
	Code    int
	Message string
}

func (e *JobError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "transcode job failed"
	}
	if e.Code == 0 {
		return msg
	}
	return fmt.Sprintf("%s (code %d)", msg, e.Code)
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.SourceKey) == "" {
		return fmt.Errorf("source key required")
	}
	if strings.TrimSpace(req.OutputPrefix) == "" {
		return fmt.Errorf("output prefix required")
	}
	return nil
}
