package scorer

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSSIM extracts the average "All:" value from ffmpeg ssim filter output.
// The summary line wins over per-frame lines.
func ParseSSIM(output string) (float64, error) {
	var (
		found   bool
		summary bool
		value   float64
	)
	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, "All:")
		if idx < 0 {
			continue
		}
		fields := strings.Fields(line[idx+len("All:"):])
		if len(fields) == 0 {
			continue
		}
		parsed, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		isSummary := strings.Contains(line, "SSIM ")
		if summary && !isSummary {
			continue
		}
		value, found, summary = parsed, true, summary || isSummary
	}
	if !found {
		return 0, fmt.Errorf("no SSIM summary in ffmpeg output")
	}
	if value < 0 || value > 1 {
		return 0, fmt.Errorf("SSIM %v out of range", value)
	}
	return value, nil
}
