package services

import (
	"context"
	"testing"
	"time"

	"github.com/sentinelstack/guardian/internal/analyzers"
	"github.com/sentinelstack/guardian/internal/engine"
	"github.com/sentinelstack/guardian/internal/eventlog"
	"github.com/sentinelstack/guardian/internal/gateway"
	"github.com/sentinelstack/guardian/internal/history"
	"github.com/sentinelstack/guardian/internal/models"
	"github.com/sentinelstack/guardian/internal/trends"
	"github.com/sentinelstack/guardian/internal/utils"
)

func newTestService(t *testing.T) *GuardianService {
	t.Helper()

	store := history.NewStore(100, 100)
	log := eventlog.NewMemoryStore()
	alerts := engine.NewAlertLevelEngine(engine.Thresholds{})
	controller := engine.NewProtocolController(nil, engine.ProtocolControllerConfig{}, nil, nil, log)
	loop := engine.NewLoop(nil, engine.LoopConfig{}, store, analyzers.Config{}, alerts, controller)
	gw := gateway.New(nil, store, 64, 1)
	miner := trends.NewMiner(nil, log)

	return NewGuardianService(nil, gw, loop, alerts, controller, log, miner)
}

func TestIngestValidation(t *testing.T) {
	s := newTestService(t)
	score := 1.5

	tests := []struct {
		name string
		err  error
	}{
		{"missing diagnostic id", s.IngestDiagnostic(models.DiagnosticRecord{OverallConfidence: 0.5})},
		{"confidence out of range", s.IngestDiagnostic(models.DiagnosticRecord{ID: "d-1", OverallConfidence: 1.2})},
		{"missing plan id", s.IngestActionPlan(models.ActionPlanRecord{Status: models.PlanProposed})},
		{"unknown plan status", s.IngestActionPlan(models.ActionPlanRecord{ID: "p-1", Status: "paused"})},
		{"effectiveness out of range", s.IngestActionPlan(models.ActionPlanRecord{ID: "p-2", Status: models.PlanCompleted, EffectivenessScore: &score})},
	}
	for _, tt := range tests {
		if tt.err == nil {
			t.Fatalf("%s: expected rejection", tt.name)
		}
		if kind := utils.KindOf(tt.err); kind != utils.KindValidation {
			t.Fatalf("%s: kind = %v, want validation", tt.name, kind)
		}
	}
}

func TestIngestDefaultsTimestamps(t *testing.T) {
	s := newTestService(t)

	if err := s.IngestDiagnostic(models.DiagnosticRecord{ID: "d-1", OverallConfidence: 0.9}); err != nil {
		t.Fatalf("valid diagnostic rejected: %v", err)
	}
	if err := s.IngestActionPlan(models.ActionPlanRecord{ID: "p-1", Status: models.PlanProposed}); err != nil {
		t.Fatalf("valid plan rejected: %v", err)
	}
}

func TestForceLevelRecordsEvent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	event, err := s.ForceLevel(ctx, models.LevelSafeMode)
	if err != nil {
		t.Fatalf("force level: %v", err)
	}
	if event == nil || event.ToLevel != models.LevelSafeMode || event.Trigger != models.TriggerOperator {
		t.Fatalf("unexpected event: %+v", event)
	}

	// Forcing the active level changes nothing and records nothing.
	event, err = s.ForceLevel(ctx, models.LevelSafeMode)
	if err != nil {
		t.Fatalf("idempotent force: %v", err)
	}
	if event != nil {
		t.Fatalf("no-op force produced an event: %+v", event)
	}

	events, err := s.Events(ctx, time.Time{})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one recorded event, got %d", len(events))
	}

	status := s.Status()
	if status.AlertState.Level != models.LevelSafeMode || !status.AlertState.SafeModeActive {
		t.Fatalf("status does not reflect forced level: %+v", status.AlertState)
	}
}

func TestForceLevelRejectsOutOfRange(t *testing.T) {
	s := newTestService(t)

	_, err := s.ForceLevel(context.Background(), models.AlertLevel(4))
	if err == nil {
		t.Fatalf("expected rejection of level 4")
	}
	if kind := utils.KindOf(err); kind != utils.KindValidation {
		t.Fatalf("kind = %v, want validation", kind)
	}
}

func TestTrendsCoverForcedTransitions(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.ForceLevel(ctx, models.LevelWatch); err != nil {
		t.Fatalf("force: %v", err)
	}
	if _, err := s.ForceLevel(ctx, models.LevelNominal); err != nil {
		t.Fatalf("force: %v", err)
	}

	report, err := s.Trends(ctx, time.Time{})
	if err != nil {
		t.Fatalf("trends: %v", err)
	}
	if report.Transitions != 2 || report.Escalations != 1 || report.Deescalations != 1 {
		t.Fatalf("report counts = %d/%d/%d", report.Transitions, report.Escalations, report.Deescalations)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	s.Start(ctx)
	if !s.Status().Running {
		t.Fatalf("service should report running")
	}
	s.Stop()
	if s.Status().Running {
		t.Fatalf("service should report stopped")
	}
}
