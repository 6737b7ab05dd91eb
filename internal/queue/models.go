package queue

import (
	"time"

	"vidconv/internal/quality"
)

// TaskStatus represents the lifecycle of a task.
type TaskStatus string

const (
	TaskPending            TaskStatus = "pending"
	TaskUploading          TaskStatus = "uploading"
	TaskConverting         TaskStatus = "converting"
	TaskVerifying          TaskStatus = "verifying"
	TaskCompleted          TaskStatus = "completed"
	TaskPartiallyCompleted TaskStatus = "partially_completed"
	TaskFailed             TaskStatus = "failed"
	TaskCancelled          TaskStatus = "cancelled"
)

// FileStatus represents the lifecycle of one file within a task.
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileConverting FileStatus = "converting"
	FileVerifying  FileStatus = "verifying"
	FileCompleted  FileStatus = "completed"
	FileFailed     FileStatus = "failed"
)

var allTaskStatuses = []TaskStatus{
	TaskPending,
	TaskUploading,
	TaskConverting,
	TaskVerifying,
	TaskCompleted,
	TaskPartiallyCompleted,
	TaskFailed,
	TaskCancelled,
}

// AllTaskStatuses lists every task status in lifecycle order.
func AllTaskStatuses() []TaskStatus {
	return append([]TaskStatus(nil), allTaskStatuses...)
}

// ActiveTaskStatuses are the statuses from which a task may still change,
// including by cancellation.
var ActiveTaskStatuses = []TaskStatus{TaskPending, TaskUploading, TaskConverting, TaskVerifying}

// TerminalTaskStatuses are the statuses no transition leaves.
var TerminalTaskStatuses = []TaskStatus{TaskCompleted, TaskPartiallyCompleted, TaskFailed, TaskCancelled}

// IsTerminal reports whether no further transition may leave s.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskPartiallyCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	for _, candidate := range allTaskStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the file has finished processing.
func (s FileStatus) IsTerminal() bool {
	return s == FileCompleted || s == FileFailed
}

// ParseTaskStatus validates a user-supplied status filter.
func ParseTaskStatus(value string) (TaskStatus, bool) {
	s := TaskStatus(value)
	return s, s.Valid()
}

// Task is one user submission.
type Task struct {
	ID              string
	OwnerID         string
	Preset          string
	Status          TaskStatus
	Files           []File
	ProgressPercent int
	CurrentStep     string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	ExpiresAt       *time.Time
}

// File is one source video within a task.
type File struct {
	TaskID            string
	ID                string
	Position          int
	Filename          string
	SourceKey         string
	OutputKey         string
	SourceSize        int64
	Status            FileStatus
	JobID             string
	Quality           *quality.Result
	ErrorCode         int
	ErrorMessage      string
	RetryCount        int
	PresetAttempts    []string
	BestEffort        bool
	SelectedPreset    string
	DownloadedAt      *time.Time
	DownloadAvailable bool
	LastHeartbeat     *time.Time
	UpdatedAt         time.Time
}

// Downloadable reports whether the converted output can still be fetched.
func (f File) Downloadable() bool {
	return f.Status == FileCompleted && f.DownloadAvailable && f.DownloadedAt == nil && f.OutputKey != ""
}

// File returns the file with id, or nil.
func (t *Task) File(id string) *File {
	if t == nil {
		return nil
	}
	for i := range t.Files {
		if t.Files[i].ID == id {
			return &t.Files[i]
		}
	}
	return nil
}

// FileStatuses lists the statuses of every file in order.
func (t *Task) FileStatuses() []FileStatus {
	if t == nil {
		return nil
	}
	out := make([]FileStatus, 0, len(t.Files))
	for _, f := range t.Files {
		out = append(out, f.Status)
	}
	return out
}

// TaskPatch updates the advisory task fields. Status changes go through
// TransitionTask. Nil fields are left untouched.
type TaskPatch struct {
	ProgressPercent *int
	CurrentStep     *string
	ErrorMessage    *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// FilePatch is an atomic partial update of one file. Nil fields are left
// untouched. Moving a file out of converting clears its job id; moving it to
// a non-failed status clears its error; moving it to a non-terminal status
// clears its quality result.
type FilePatch struct {
	Status            *FileStatus
	OutputKey         *string
	JobID             *string
	Quality           *quality.Result
	ErrorCode         *int
	ErrorMessage      *string
	RetryCount        *int
	PresetAttempts    []string
	BestEffort        *bool
	SelectedPreset    *string
	DownloadedAt      *time.Time
	DownloadAvailable *bool
}

// Ptr returns a pointer to v for building patches.
func Ptr[T any](v T) *T {
	return &v
}

// Stats summarizes task counts per status.
type Stats struct {
	Tasks        map[TaskStatus]int
	PendingFiles int
	ActiveFiles  int
}
