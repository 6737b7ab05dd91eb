package quality

// Attempt is one preset, transcode, and score cycle for a single file.
// Score is nil when the transcoder failed before anything could be measured.
type Attempt struct {
	Preset    string
	JobID     string
	OutputKey string
	Score     *float64
	Result    *Result
	Success   bool
	Error     string
}

// Select picks the attempt to keep once every attempt failed the gate: the
// highest non-nil score wins and ties keep the earliest attempt. It returns
// nil when no attempt was scored.
func Select(attempts []Attempt) (*Attempt, bool) {
	var chosen *Attempt
	for i := range attempts {
		candidate := &attempts[i]
		if candidate.Score == nil {
			continue
		}
		if chosen == nil || *candidate.Score > *chosen.Score {
			chosen = candidate
		}
	}
	if chosen == nil {
		return nil, false
	}
	return chosen, true
}

// Presets lists the presets tried, in order.
func Presets(attempts []Attempt) []string {
	out := make([]string, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, a.Preset)
	}
	return out
}
