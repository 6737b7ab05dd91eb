package quality

import "fmt"

// Action is the verdict of the quality gate.
type Action string

const (
	ActionAccept Action = "accept"
	ActionRetry  Action = "retry_with_higher_preset"
	ActionFail   Action = "fail"
)

// Decision is the gate outcome for one scored attempt.
type Decision struct {
	Action     Action
	NextPreset string
	Reason     string
}

// Decide compares score against threshold for a file converted with preset.
func Decide(preset string, score, threshold float64) Decision {
	if score >= threshold {
		return Decision{
			Action: ActionAccept,
			Reason: fmt.Sprintf("ssim %.4f meets threshold %.4f", score, threshold),
		}
	}
	if !IsAdaptive(preset) {
		return Decision{
			Action: ActionFail,
			Reason: fmt.Sprintf("ssim %.4f below threshold %.4f; preset %q does not escalate", score, threshold, preset),
		}
	}
	next, ok := Successor(preset)
	if !ok {
		return Decision{
			Action: ActionFail,
			Reason: fmt.Sprintf("ssim %.4f below threshold %.4f; escalation chain exhausted at %q", score, threshold, preset),
		}
	}
	return Decision{
		Action:     ActionRetry,
		NextPreset: next,
		Reason:     fmt.Sprintf("ssim %.4f below threshold %.4f; escalating %q to %q", score, threshold, preset, next),
	}
}

// BestEffortAllowed reports whether a failed gate may fall back to the best
// attempt so far instead of failing the file. A non-adaptive preset that was
// the first attempt fails outright; an adaptive preset or any escalated retry
// keeps its best result.
func BestEffortAllowed(preset string, priorAttempts int) bool {
	return IsAdaptive(preset) || priorAttempts > 0
}
