package analyzers

import "github.com/sentinelstack/guardian/internal/models"

// EfficacyAnalyzer measures how well completed corrective action plans worked.
type EfficacyAnalyzer struct {
	cfg Config
}

// NewEfficacyAnalyzer creates an efficacy analyzer.
func NewEfficacyAnalyzer(cfg Config) *EfficacyAnalyzer {
	return &EfficacyAnalyzer{cfg: cfg.withDefaults()}
}

// Score computes the mean effectiveness score over completed plans in the most
// recent window. Plans without a recorded score are skipped; fewer than the
// minimum number of scored completions fails soft.
func (a *EfficacyAnalyzer) Score(plans []models.ActionPlanRecord) (float64, error) {
	completed := make([]float64, 0, len(plans))
	for _, p := range plans {
		if p.Status != models.PlanCompleted || p.EffectivenessScore == nil {
			continue
		}
		completed = append(completed, clamp(*p.EffectivenessScore, 0, 1))
	}

	window := tail(completed, a.cfg.WindowActionPlans)
	if len(window) < a.cfg.MinActionPlans {
		return 0, ErrInsufficientData
	}

	sum := 0.0
	for _, score := range window {
		sum += score
	}
	return sum / float64(len(window)), nil
}

// CompletedCount reports how many scored completions the window would hold,
// for snapshot sample-size accounting.
func (a *EfficacyAnalyzer) CompletedCount(plans []models.ActionPlanRecord) int {
	count := 0
	for _, p := range plans {
		if p.Status == models.PlanCompleted && p.EffectivenessScore != nil {
			count++
		}
	}
	if count > a.cfg.WindowActionPlans {
		count = a.cfg.WindowActionPlans
	}
	return count
}
