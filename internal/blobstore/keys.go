package blobstore

import (
	"path"
	"strconv"
	"strings"
)

// OutputSuffix is appended to the source stem for converted files.
const OutputSuffix = "_h265"

// OutputExtension is the container extension of converted files.
const OutputExtension = ".mp4"

// InputKey is where a source upload lives.
func InputKey(taskID, fileID, filename string) string {
	return "input/" + taskID + "/" + fileID + "/" + path.Base(filename)
}

// OutputPrefix is the directory the transcoder writes a file's output into.
func OutputPrefix(taskID, fileID string) string {
	return "output/" + taskID + "/" + fileID + "/"
}

// AttemptPrefix is where an escalated attempt writes, so earlier attempts
// stay readable for best-effort selection. Attempt 0 uses OutputPrefix.
func AttemptPrefix(taskID, fileID string, attempt int) string {
	if attempt <= 0 {
		return OutputPrefix(taskID, fileID)
	}
	return OutputPrefix(taskID, fileID) + "attempt-" + strconv.Itoa(attempt) + "/"
}

// OutputKey is the converted object produced for a source filename.
func OutputKey(taskID, fileID, filename string) string {
	return OutputPrefix(taskID, fileID) + OutputName(filename)
}

// OutputName returns the converted filename for a source filename.
func OutputName(filename string) string {
	base := path.Base(filename)
	return strings.TrimSuffix(base, path.Ext(base)) + OutputSuffix + OutputExtension
}

// TempPrefix holds scratch objects for a task.
func TempPrefix(taskID string) string {
	return "temp/" + taskID + "/"
}

// TaskPrefixes lists every prefix a task may have written under.
func TaskPrefixes(taskID string) []string {
	return []string{
		"input/" + taskID + "/",
		"output/" + taskID + "/",
		TempPrefix(taskID),
	}
}

// Dedupe drops blank and repeated keys, keeping first-seen order.
func Dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
