package eventcache

import (
	"math"
	"strings"
)

// classify determines the EventType for a new value given its previous
// value (§4.5). ok is always true: classify is only called when a previous
// value exists, and events without one keep HasEventType unset, per the
// CachedEvent invariant that derived fields require a previous value.
func classify(prev, cur Value, controlName string, cfg *CompressionConfig) (EventType, bool) {
	if isStateTransition(prev, cur) {
		return EventTypeStateTransition, true
	}
	if prev.IsNumeric() && cur.IsNumeric() {
		if crossed := crossesThreshold(prev.Number, cur.Number, controlName, cfg); crossed {
			return EventTypeThresholdCrossed, true
		}
		if pct := percentDelta(prev.Number, cur.Number); pct >= cfg.SignificantChangePercent {
			return EventTypeSignificantChange, true
		}
	}
	return EventTypeChange, true
}

// isStateTransition detects a change in discrete identity: a boolean
// flip, a string inequality, or either side being boolean/string while the
// other differs (§4.5).
func isStateTransition(prev, cur Value) bool {
	if prev.Kind == ValueBool || cur.Kind == ValueBool {
		return !prev.Equal(cur)
	}
	if prev.Kind == ValueString || cur.Kind == ValueString {
		return !prev.Equal(cur)
	}
	return false
}

func percentDelta(prev, cur float64) float64 {
	if prev == 0 {
		if cur == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs((cur-prev)/prev) * 100
}

// standardThresholds is the default audio dB crossing set (§4.5, §9).
// 0 and -60 are always checked even when a configured set omits them.
var standardThresholds = []float64{-60, -40, -20, -12, -6, -3, 0}

func crossesThreshold(prev, cur float64, controlName string, cfg *CompressionConfig) bool {
	if !matchesThresholdControl(controlName, cfg.ThresholdControlPatterns) {
		return false
	}
	set := cfg.ThresholdCrossedDB
	if len(set) == 0 {
		set = standardThresholds
	}
	checked := map[float64]bool{0: true, -60: true}
	for _, t := range set {
		checked[t] = true
	}
	lo, hi := prev, cur
	if lo > hi {
		lo, hi = hi, lo
	}
	for t := range checked {
		if t >= lo && t <= hi && prev != cur {
			return true
		}
	}
	return false
}

func matchesThresholdControl(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
