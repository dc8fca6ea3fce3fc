package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sentinelstack/guardian/internal/history"
	"github.com/sentinelstack/guardian/internal/models"
)

func TestOverflowDropsOldest(t *testing.T) {
	const capacity = 8
	store := history.NewStore(100, 100)
	gw := New(nil, store, capacity, 1)

	// Workers not started: fill the queue to twice its capacity.
	for i := 0; i < 2*capacity; i++ {
		gw.OfferDiagnostic(models.DiagnosticRecord{ID: fmt.Sprintf("d-%d", i)})
	}

	if got := gw.Dropped(); got != capacity {
		t.Fatalf("expected %d dropped events, got %d", capacity, got)
	}
	if depth := gw.Depth(); depth != capacity {
		t.Fatalf("expected queue depth %d, got %d", capacity, depth)
	}

	// Drain: only the most recent capacity events survive.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.Start(ctx)
	waitFor(t, func() bool { diags, _ := store.Sizes(); return diags == capacity })
	gw.Stop()

	diags, _ := store.Snapshot()
	if diags[0].ID != fmt.Sprintf("d-%d", capacity) {
		t.Fatalf("oldest surviving event should be d-%d, got %s", capacity, diags[0].ID)
	}
	if diags[len(diags)-1].ID != fmt.Sprintf("d-%d", 2*capacity-1) {
		t.Fatalf("newest event missing, got %s", diags[len(diags)-1].ID)
	}
}

func TestDeliversBothRecordTypes(t *testing.T) {
	store := history.NewStore(100, 100)
	gw := New(nil, store, 16, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.Start(ctx)
	defer gw.Stop()

	gw.OfferDiagnostic(models.DiagnosticRecord{ID: "d-1", OverallConfidence: 0.9})
	gw.OfferActionPlan(models.ActionPlanRecord{ID: "p-1", Status: models.PlanProposed})

	waitFor(t, func() bool {
		diags, plans := store.Sizes()
		return diags == 1 && plans == 1
	})
}

func TestStartStopIdempotent(t *testing.T) {
	store := history.NewStore(10, 10)
	gw := New(nil, store, 4, 1)

	ctx := context.Background()
	gw.Start(ctx)
	gw.Start(ctx)
	gw.Stop()
	gw.Stop()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}
