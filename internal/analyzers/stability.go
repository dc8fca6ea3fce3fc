package analyzers

import "github.com/sentinelstack/guardian/internal/models"

// StabilityAnalyzer flags corrective hyperactivity: a loop that cancels most
// of its recently proposed plans before execution is oscillating, not healing.
type StabilityAnalyzer struct {
	cfg Config
}

// NewStabilityAnalyzer creates a stability analyzer.
func NewStabilityAnalyzer(cfg Config) *StabilityAnalyzer {
	return &StabilityAnalyzer{cfg: cfg.withDefaults()}
}

// Score computes 1 - cancellationRate over the most recent window of plans of
// any status.
func (a *StabilityAnalyzer) Score(plans []models.ActionPlanRecord) (float64, error) {
	window := tail(plans, a.cfg.WindowActionPlans)
	if len(window) < a.cfg.MinActionPlans {
		return 0, ErrInsufficientData
	}

	cancelled := 0
	for _, p := range window {
		if p.Status == models.PlanCancelled {
			cancelled++
		}
	}
	return 1 - float64(cancelled)/float64(len(window)), nil
}
