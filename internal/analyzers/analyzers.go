// Package analyzers scores the health of the self-healing loop from history
// snapshots. Each analyzer is a pure function over its input window and fails
// soft with ErrInsufficientData when the window is too small; the evaluation
// tick treats that as "no signal", never as healthy.
package analyzers

import "errors"

// ErrInsufficientData signals that a window holds fewer samples than the
// configured minimum.
var ErrInsufficientData = errors.New("insufficient samples in window")

// Config parameterises the three analyzers. Zero values fall back to the
// documented defaults.
type Config struct {
	WindowDiagnostics      int
	MinDiagnostics         int
	LowConfidenceThreshold float64
	ContradictionWeight    float64
	WindowActionPlans      int
	MinActionPlans         int
}

func (c Config) withDefaults() Config {
	if c.WindowDiagnostics <= 0 {
		c.WindowDiagnostics = 50
	}
	if c.MinDiagnostics <= 0 {
		c.MinDiagnostics = 10
	}
	if c.LowConfidenceThreshold <= 0 {
		c.LowConfidenceThreshold = 0.5
	}
	if c.WindowActionPlans <= 0 {
		c.WindowActionPlans = 50
	}
	if c.MinActionPlans <= 0 {
		c.MinActionPlans = 10
	}
	return c
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// tail returns the last n elements of a slice without copying.
func tail[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
