package quality

// Result is the stored outcome of one scoring run.
type Result struct {
	SSIM              float64 `json:"ssim_score"`
	OriginalSize      int64   `json:"original_size"`
	ConvertedSize     int64   `json:"converted_size"`
	CompressionRatio  float64 `json:"compression_ratio"`
	SpaceSavedBytes   int64   `json:"space_saved_bytes"`
	SpaceSavedPercent float64 `json:"space_saved_percent"`
}

// NewResult derives the size metrics for a score.
func NewResult(ssim float64, originalSize, convertedSize int64) Result {
	r := Result{
		SSIM:            ssim,
		OriginalSize:    originalSize,
		ConvertedSize:   convertedSize,
		SpaceSavedBytes: originalSize - convertedSize,
	}
	if convertedSize > 0 {
		r.CompressionRatio = float64(originalSize) / float64(convertedSize)
	}
	if originalSize > 0 {
		r.SpaceSavedPercent = float64(r.SpaceSavedBytes) / float64(originalSize) * 100
	}
	return r
}

// Passed reports whether the score meets threshold.
func (r Result) Passed(threshold float64) bool {
	return r.SSIM >= threshold
}
