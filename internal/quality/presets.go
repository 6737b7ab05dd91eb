package quality

import (
	"sort"
	"strings"
)

// AdaptiveMarker is the suffix that allows a preset to escalate on a failed gate.
const AdaptiveMarker = "+"

// DefaultPreset is used when a preset name is blank or unknown.
const DefaultPreset = "balanced"

// Preset carries the rate-control parameters handed to the transcoder.
type Preset struct {
	Name         string
	QualityLevel int
	MaxBitrate   int
	Description  string
	Adaptive     bool
}

var presets = map[string]Preset{
	"balanced":    {Name: "balanced", QualityLevel: 7, MaxBitrate: 20_000_000, Description: "Balanced (QVBR 6-7)"},
	"high":        {Name: "high", QualityLevel: 9, MaxBitrate: 50_000_000, Description: "High quality (QVBR 8-9)"},
	"compression": {Name: "compression", QualityLevel: 5, MaxBitrate: 10_000_000, Description: "High compression (QVBR 4-5)"},
	"balanced+":   {Name: "balanced+", QualityLevel: 7, MaxBitrate: 20_000_000, Description: "Balanced with adaptive fallback", Adaptive: true},
	"high+":       {Name: "high+", QualityLevel: 9, MaxBitrate: 50_000_000, Description: "High quality with adaptive fallback", Adaptive: true},
}

// chain is the escalation order for adaptive presets, by base name.
var chain = []string{"balanced", "high"}

// Lookup returns the named preset.
func Lookup(name string) (Preset, bool) {
	p, ok := presets[strings.TrimSpace(name)]
	return p, ok
}

// Resolve returns the named preset, falling back to the balanced parameters
// for unknown names. The returned preset keeps the requested name.
func Resolve(name string) Preset {
	if p, ok := Lookup(name); ok {
		return p
	}
	p := presets[DefaultPreset]
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		p.Name = trimmed
		p.Adaptive = IsAdaptive(trimmed)
	}
	return p
}

// Valid reports whether name is a known preset.
func Valid(name string) bool {
	_, ok := Lookup(name)
	return ok
}

// Names lists the known presets in stable order.
func Names() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsAdaptive reports whether the preset carries the escalation marker.
func IsAdaptive(name string) bool {
	return strings.HasSuffix(strings.TrimSpace(name), AdaptiveMarker)
}

// BaseName strips the escalation marker.
func BaseName(name string) string {
	return strings.TrimSuffix(strings.TrimSpace(name), AdaptiveMarker)
}

// Successor returns the next preset in the escalation chain for an adaptive
// preset. Unknown adaptive presets are treated as the first chain position.
// The successor is returned without the marker, so it never escalates again.
func Successor(name string) (string, bool) {
	if !IsAdaptive(name) {
		return "", false
	}
	base := BaseName(name)
	index := 0
	for i, candidate := range chain {
		if candidate == base {
			index = i
			break
		}
	}
	if index >= len(chain)-1 {
		return "", false
	}
	return chain[index+1], true
}
