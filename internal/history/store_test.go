package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/sentinelstack/guardian/internal/models"
)

func TestDiagnosticEvictionOldestFirst(t *testing.T) {
	store := NewStore(3, 3)
	now := time.Now()

	for i := 0; i < 5; i++ {
		store.IngestDiagnostic(models.DiagnosticRecord{
			ID:        fmt.Sprintf("d-%d", i),
			Timestamp: now.Add(time.Duration(i) * time.Second),
		})
	}

	diags, _ := store.Snapshot()
	if len(diags) != 3 {
		t.Fatalf("expected 3 diagnostics after eviction, got %d", len(diags))
	}
	if diags[0].ID != "d-2" || diags[2].ID != "d-4" {
		t.Fatalf("eviction order wrong: first=%s last=%s", diags[0].ID, diags[2].ID)
	}
}

func TestActionPlanUpdateInPlace(t *testing.T) {
	store := NewStore(10, 10)
	now := time.Now()

	store.IngestActionPlan(models.ActionPlanRecord{ID: "p-1", CreatedAt: now, Status: models.PlanProposed})
	store.IngestActionPlan(models.ActionPlanRecord{ID: "p-2", CreatedAt: now.Add(time.Second), Status: models.PlanProposed})

	score := 0.8
	store.IngestActionPlan(models.ActionPlanRecord{
		ID:                 "p-1",
		UpdatedAt:          now.Add(2 * time.Second),
		Status:             models.PlanCompleted,
		EffectivenessScore: &score,
	})

	_, plans := store.Snapshot()
	if len(plans) != 2 {
		t.Fatalf("update must not append, got %d plans", len(plans))
	}
	if plans[0].ID != "p-1" {
		t.Fatalf("update must preserve position, first plan is %s", plans[0].ID)
	}
	if plans[0].Status != models.PlanCompleted || plans[0].EffectivenessScore == nil {
		t.Fatalf("update not applied: %+v", plans[0])
	}
	if plans[0].CreatedAt.IsZero() {
		t.Fatalf("update dropped created_at")
	}
}

func TestActionPlanLastWriteWins(t *testing.T) {
	store := NewStore(10, 10)
	now := time.Now()

	store.IngestActionPlan(models.ActionPlanRecord{ID: "p-1", CreatedAt: now, UpdatedAt: now.Add(5 * time.Second), Status: models.PlanCancelled})
	// Stale update arriving out of order must be ignored.
	store.IngestActionPlan(models.ActionPlanRecord{ID: "p-1", CreatedAt: now, UpdatedAt: now.Add(2 * time.Second), Status: models.PlanExecuting})

	_, plans := store.Snapshot()
	if plans[0].Status != models.PlanCancelled {
		t.Fatalf("stale update overwrote newer state: %s", plans[0].Status)
	}
}

func TestActionPlanEvictionKeepsIndexConsistent(t *testing.T) {
	store := NewStore(10, 2)
	now := time.Now()

	for i := 0; i < 3; i++ {
		store.IngestActionPlan(models.ActionPlanRecord{
			ID:        fmt.Sprintf("p-%d", i),
			CreatedAt: now.Add(time.Duration(i) * time.Second),
			Status:    models.PlanProposed,
		})
	}

	// p-0 was evicted; updating the surviving p-1 must hit the right slot.
	store.IngestActionPlan(models.ActionPlanRecord{ID: "p-1", UpdatedAt: now.Add(time.Minute), Status: models.PlanFailed})

	_, plans := store.Snapshot()
	if len(plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(plans))
	}
	if plans[0].ID != "p-1" || plans[0].Status != models.PlanFailed {
		t.Fatalf("index desync after eviction: %+v", plans[0])
	}
}

func TestSnapshotIsolation(t *testing.T) {
	store := NewStore(10, 10)
	store.IngestDiagnostic(models.DiagnosticRecord{
		ID:        "d-1",
		Anomalies: []models.AnomalyFinding{{Dimension: "latency", Severity: 0.9}},
	})

	diags, _ := store.Snapshot()
	diags[0].Anomalies[0].Dimension = "mutated"

	fresh, _ := store.Snapshot()
	if fresh[0].Anomalies[0].Dimension != "latency" {
		t.Fatalf("snapshot aliases store memory")
	}
}
