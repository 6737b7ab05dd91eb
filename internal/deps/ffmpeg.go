package deps

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// FilterRunner runs ffmpeg and returns its combined output.
type FilterRunner func(ctx context.Context, binary string, args ...string) (string, error)

func runFFmpeg(ctx context.Context, binary string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, binary, args...).CombinedOutput()
	return string(out), err
}

// CheckFFmpeg reports whether binary resolves and ships the ssim filter the
// quality scorer depends on. A nil runner executes the binary.
func CheckFFmpeg(ctx context.Context, binary string, run FilterRunner) Status {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	status := Resolve(Requirement{
		Name:        "FFmpeg",
		Command:     binary,
		Description: "Required for SSIM quality scoring and local encodes",
	})
	if !status.Available {
		return status
	}
	status.Available = false
	resolved := status.Command
	if run == nil {
		run = runFFmpeg
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := run(ctx, resolved, "-hide_banner", "-filters")
	if err != nil {
		status.Detail = fmt.Sprintf("list filters: %v", err)
		return status
	}
	if !hasFilter(out, "ssim") {
		status.Detail = "ffmpeg build lacks the ssim filter"
		return status
	}
	status.Available = true
	return status
}

// hasFilter scans `ffmpeg -filters` output, whose rows read
// " ... ssim              VV->V      Calculate the SSIM ...".
func hasFilter(output, name string) bool {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}
