package api

import "vidconv/internal/quality"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// TaskView describes a task in a transport-friendly format.
type TaskView struct {
	ID           string       `json:"id"`
	OwnerID      string       `json:"ownerId"`
	Preset       string       `json:"preset"`
	Status       string       `json:"status"`
	Progress     ProgressView `json:"progress"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	CreatedAt    string       `json:"createdAt,omitempty"`
	StartedAt    string       `json:"startedAt,omitempty"`
	CompletedAt  string       `json:"completedAt,omitempty"`
	ExpiresAt    string       `json:"expiresAt,omitempty"`
	// EstimatedSeconds is set while files remain to be converted.
	EstimatedSeconds *int       `json:"estimatedSeconds,omitempty"`
	Files            []FileView `json:"files"`
}

// ProgressView is the derived task progress.
type ProgressView struct {
	Percent int    `json:"percent"`
	Step    string `json:"step"`
}

// FileView describes one file of a task.
type FileView struct {
	ID                string          `json:"id"`
	Filename          string          `json:"filename"`
	Status            string          `json:"status"`
	SourceSize        int64           `json:"sourceSize"`
	OutputKey         string          `json:"outputKey,omitempty"`
	Quality           *quality.Result `json:"quality,omitempty"`
	SelectedPreset    string          `json:"selectedPreset,omitempty"`
	BestEffort        bool            `json:"bestEffort"`
	PresetAttempts    []string        `json:"presetAttempts,omitempty"`
	RetryCount        int             `json:"retryCount"`
	ErrorCode         int             `json:"errorCode,omitempty"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
	DownloadAvailable bool            `json:"downloadAvailable"`
	DownloadedAt      string          `json:"downloadedAt,omitempty"`
	DownloadURL       string          `json:"downloadUrl,omitempty"`
}

// WorkflowStatus summarizes the daemon's worker pool and queue.
type WorkflowStatus struct {
	Running        bool           `json:"running"`
	MaxConcurrency int            `json:"maxConcurrency"`
	LastError      string         `json:"lastError,omitempty"`
	TaskStats      map[string]int `json:"taskStats"`
	PendingFiles   int            `json:"pendingFiles"`
	ActiveFiles    int            `json:"activeFiles"`
	Active         []ActiveFile   `json:"active"`
}

// ActiveFile is a file currently held by a worker.
type ActiveFile struct {
	TaskID   string `json:"taskId"`
	FileID   string `json:"fileId"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	JobID    string `json:"jobId,omitempty"`
}

// DaemonStatus aggregates runtime information for `vidconv status`.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	Backend      string             `json:"backend"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CancelResponse reports a cancellation request.
type CancelResponse struct {
	Success        bool     `json:"success"`
	PreviousStatus string   `json:"previousStatus,omitempty"`
	BlobsDeleted   bool     `json:"blobsDeleted"`
	DeletedCount   int      `json:"deletedCount"`
	JobsCancelled  bool     `json:"jobsCancelled"`
	CancelledCount int      `json:"cancelledCount"`
	ErrorMessage   string   `json:"errorMessage,omitempty"`
	CleanupErrors  []string `json:"cleanupErrors,omitempty"`
}

// TaskListResponse wraps a task listing.
type TaskListResponse struct {
	Tasks []TaskView `json:"tasks"`
}

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
