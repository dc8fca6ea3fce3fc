package analyzers

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/sentinelstack/guardian/internal/models"
)

func completedPlans(scores ...float64) []models.ActionPlanRecord {
	plans := make([]models.ActionPlanRecord, 0, len(scores))
	for i := range scores {
		score := scores[i]
		plans = append(plans, models.ActionPlanRecord{
			ID:                 fmt.Sprintf("p-%d", i),
			Status:             models.PlanCompleted,
			EffectivenessScore: &score,
		})
	}
	return plans
}

func TestEfficacyMeanOfCompleted(t *testing.T) {
	analyzer := NewEfficacyAnalyzer(Config{MinActionPlans: 2})

	plans := completedPlans(0.2, 0.4, 0.6, 0.8)
	// Non-completed and unscored plans must be ignored.
	plans = append(plans,
		models.ActionPlanRecord{ID: "x-1", Status: models.PlanCancelled},
		models.ActionPlanRecord{ID: "x-2", Status: models.PlanCompleted},
		models.ActionPlanRecord{ID: "x-3", Status: models.PlanExecuting},
	)

	score, err := analyzer.Score(plans)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if math.Abs(score-0.5) > 1e-9 {
		t.Fatalf("expected mean 0.5, got %f", score)
	}
}

func TestEfficacyInsufficientCompleted(t *testing.T) {
	analyzer := NewEfficacyAnalyzer(Config{})

	// Plenty of plans overall, but too few scored completions.
	plans := make([]models.ActionPlanRecord, 0, 20)
	for i := 0; i < 18; i++ {
		plans = append(plans, models.ActionPlanRecord{ID: fmt.Sprintf("p-%d", i), Status: models.PlanExecuting})
	}
	plans = append(plans, completedPlans(0.9, 0.9)...)

	_, err := analyzer.Score(plans)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}
