package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"vidconv/internal/api"
)

var titleCaser = cases.Title(language.Und)

// label turns "partially_completed" into "Partially Completed".
func label(value string) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, "_", " "))
	if value == "" {
		return "-"
	}
	return titleCaser.String(value)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatBytes(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}

func formatWhen(value string) string {
	if value == "" {
		return "-"
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return humanize.Time(t)
}

func formatETA(seconds *int) string {
	if seconds == nil {
		return "-"
	}
	return (time.Duration(*seconds) * time.Second).String()
}

func formatProgress(p api.ProgressView) string {
	return fmt.Sprintf("%d%% (%s)", p.Percent, label(p.Step))
}

func formatQuality(f api.FileView) string {
	if f.Quality == nil {
		return "-"
	}
	out := fmt.Sprintf("SSIM %.4f, %.1f%% saved", f.Quality.SSIM, f.Quality.SpaceSavedPercent)
	if f.BestEffort {
		out += " (best effort)"
	}
	return out
}

func taskStatusKind(status string) statusKind {
	switch status {
	case "completed":
		return statusOK
	case "partially_completed", "cancelled":
		return statusWarn
	case "failed":
		return statusError
	default:
		return statusInfo
	}
}
