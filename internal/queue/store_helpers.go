package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"vidconv/internal/quality"
)

const taskColumns = "id, owner_id, preset, status, progress_percent, current_step, error_message, created_at, updated_at, started_at, completed_at, expires_at"

const fileColumns = "task_id, file_id, position, filename, source_key, output_key, source_size, status, job_id, quality_json, error_code, error_message, retry_count, preset_attempts, best_effort, selected_preset, downloaded_at, download_available, last_heartbeat, updated_at"

type rowScanner interface{ Scan(dest ...any) error }

func scanTask(scanner rowScanner) (*Task, error) {
	var (
		task         Task
		statusStr    string
		currentStep  sql.NullString
		errorMessage sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
		expiresRaw   sql.NullString
	)
	if err := scanner.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Preset,
		&statusStr,
		&task.ProgressPercent,
		&currentStep,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&completedRaw,
		&expiresRaw,
	); err != nil {
		return nil, err
	}
	task.Status = TaskStatus(statusStr)
	task.CurrentStep = currentStep.String
	task.ErrorMessage = errorMessage.String
	if created, err := parseTimeString(createdRaw.String); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		task.UpdatedAt = updated
	}
	task.StartedAt = parseNullableTime(startedRaw)
	task.CompletedAt = parseNullableTime(completedRaw)
	task.ExpiresAt = parseNullableTime(expiresRaw)
	return &task, nil
}

func scanFile(scanner rowScanner) (*File, error) {
	var (
		file           File
		outputKey      sql.NullString
		statusStr      string
		jobID          sql.NullString
		qualityJSON    sql.NullString
		errorCode      sql.NullInt64
		errorMessage   sql.NullString
		presetAttempts sql.NullString
		bestEffort     int
		selectedPreset sql.NullString
		downloadedRaw  sql.NullString
		available      int
		heartbeatRaw   sql.NullString
		updatedRaw     sql.NullString
	)
	if err := scanner.Scan(
		&file.TaskID,
		&file.ID,
		&file.Position,
		&file.Filename,
		&file.SourceKey,
		&outputKey,
		&file.SourceSize,
		&statusStr,
		&jobID,
		&qualityJSON,
		&errorCode,
		&errorMessage,
		&file.RetryCount,
		&presetAttempts,
		&bestEffort,
		&selectedPreset,
		&downloadedRaw,
		&available,
		&heartbeatRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	file.OutputKey = outputKey.String
	file.Status = FileStatus(statusStr)
	file.JobID = jobID.String
	file.ErrorCode = int(errorCode.Int64)
	file.ErrorMessage = errorMessage.String
	file.BestEffort = bestEffort != 0
	file.SelectedPreset = selectedPreset.String
	file.DownloadAvailable = available != 0
	file.DownloadedAt = parseNullableTime(downloadedRaw)
	file.LastHeartbeat = parseNullableTime(heartbeatRaw)
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		file.UpdatedAt = updated
	}
	if qualityJSON.Valid && qualityJSON.String != "" {
		var result quality.Result
		if err := json.Unmarshal([]byte(qualityJSON.String), &result); err == nil {
			file.Quality = &result
		}
	}
	file.PresetAttempts = decodeAttempts(presetAttempts.String)
	return &file, nil
}

func encodeAttempts(attempts []string) string {
	if len(attempts) == 0 {
		return "[]"
	}
	data, err := json.Marshal(attempts)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeAttempts(raw string) []string {
	if raw == "" {
		return nil
	}
	var attempts []string
	if err := json.Unmarshal([]byte(raw), &attempts); err != nil || len(attempts) == 0 {
		return nil
	}
	return attempts
}

func encodeQuality(result *quality.Result) (any, error) {
	if result == nil {
		return nil, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	parsed, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs[T ~string](statuses []T) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return args
}
