// Package quality owns the encoding presets and the decisions taken after a
// converted file has been scored.
//
// Decide is the quality gate: a score at or above the threshold is accepted,
// adaptive presets (suffix "+") escalate along the fixed chain, and
// everything else fails. Select picks the best-effort attempt once no
// attempt cleared the gate. NewResult derives the size metrics stored with
// each scored file.
package quality
