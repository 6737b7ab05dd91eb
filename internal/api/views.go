package api

import (
	"sort"
	"time"

	"vidconv/internal/cancel"
	"vidconv/internal/deps"
	"vidconv/internal/queue"
	"vidconv/internal/workflow"
)

// FromTask converts a task with already computed progress.
func FromTask(task *queue.Task, percent int, step string) TaskView {
	view := TaskView{
		ID:           task.ID,
		OwnerID:      task.OwnerID,
		Preset:       task.Preset,
		Status:       string(task.Status),
		Progress:     ProgressView{Percent: percent, Step: step},
		ErrorMessage: task.ErrorMessage,
		CreatedAt:    formatTime(task.CreatedAt),
		StartedAt:    formatTimePtr(task.StartedAt),
		CompletedAt:  formatTimePtr(task.CompletedAt),
		ExpiresAt:    formatTimePtr(task.ExpiresAt),
		Files:        make([]FileView, 0, len(task.Files)),
	}
	for _, f := range task.Files {
		view.Files = append(view.Files, FromFile(f))
	}
	return view
}

// FromFile converts one file.
func FromFile(f queue.File) FileView {
	return FileView{
		ID:                f.ID,
		Filename:          f.Filename,
		Status:            string(f.Status),
		SourceSize:        f.SourceSize,
		OutputKey:         f.OutputKey,
		Quality:           f.Quality,
		SelectedPreset:    f.SelectedPreset,
		BestEffort:        f.BestEffort,
		PresetAttempts:    f.PresetAttempts,
		RetryCount:        f.RetryCount,
		ErrorCode:         f.ErrorCode,
		ErrorMessage:      f.ErrorMessage,
		DownloadAvailable: f.DownloadAvailable,
		DownloadedAt:      formatTimePtr(f.DownloadedAt),
	}
}

// FromStatusSummary converts the worker pool summary.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:        summary.Running,
		MaxConcurrency: summary.MaxConcurrency,
		LastError:      summary.LastError,
		TaskStats:      make(map[string]int, len(summary.Stats.Tasks)),
		PendingFiles:   summary.Stats.PendingFiles,
		ActiveFiles:    summary.Stats.ActiveFiles,
		Active:         make([]ActiveFile, 0, len(summary.Active)),
	}
	for _, s := range queue.AllTaskStatuses() {
		status.TaskStats[string(s)] = summary.Stats.Tasks[s]
	}
	for _, f := range summary.Active {
		status.Active = append(status.Active, ActiveFile{
			TaskID:   f.TaskID,
			FileID:   f.ID,
			Filename: f.Filename,
			Status:   string(f.Status),
			JobID:    f.JobID,
		})
	}
	return status
}

// FromCancelResult converts a cancellation outcome.
func FromCancelResult(result cancel.Result) CancelResponse {
	return CancelResponse{
		Success:        result.Success,
		PreviousStatus: string(result.PreviousStatus),
		BlobsDeleted:   result.BlobsDeleted,
		DeletedCount:   result.DeletedCount,
		JobsCancelled:  result.JobsCancelled,
		CancelledCount: result.CancelledCount,
		ErrorMessage:   result.ErrorMessage,
		CleanupErrors:  result.CleanupErrors,
	}
}

// FromDependencies converts dependency checks in stable name order.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, DependencyStatus{
			Name:        s.Name,
			Command:     s.Command,
			Description: s.Description,
			Optional:    s.Optional,
			Available:   s.Available,
			Detail:      s.Detail,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
