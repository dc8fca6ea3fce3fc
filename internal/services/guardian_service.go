// Package services exposes the Guardian's operations behind one facade so the
// HTTP layer stays free of orchestration logic.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinelstack/guardian/internal/engine"
	"github.com/sentinelstack/guardian/internal/eventlog"
	"github.com/sentinelstack/guardian/internal/gateway"
	"github.com/sentinelstack/guardian/internal/models"
	"github.com/sentinelstack/guardian/internal/trends"
	"github.com/sentinelstack/guardian/internal/utils"
)

// StatusReport is the Guardian's externally visible state.
type StatusReport struct {
	Running        bool                   `json:"running"`
	AlertState     models.AlertState      `json:"alert_state"`
	LatestSnapshot *models.HealthSnapshot `json:"latest_snapshot,omitempty"`
	QueueDepth     int                    `json:"queue_depth"`
	DroppedEvents  int64                  `json:"dropped_events"`
	FailedActions  int64                  `json:"failed_actions"`
}

// GuardianService wires intake, evaluation and the emergency protocol into one
// control surface.
type GuardianService struct {
	logger     *slog.Logger
	gateway    *gateway.Gateway
	loop       *engine.Loop
	alerts     *engine.AlertLevelEngine
	controller *engine.ProtocolController
	eventLog   eventlog.Store
	miner      *trends.Miner
}

// NewGuardianService constructs the facade.
func NewGuardianService(
	logger *slog.Logger,
	gw *gateway.Gateway,
	loop *engine.Loop,
	alerts *engine.AlertLevelEngine,
	controller *engine.ProtocolController,
	log eventlog.Store,
	miner *trends.Miner,
) *GuardianService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardianService{
		logger:     logger,
		gateway:    gw,
		loop:       loop,
		alerts:     alerts,
		controller: controller,
		eventLog:   log,
		miner:      miner,
	}
}

// Start launches intake and evaluation. Idempotent.
func (s *GuardianService) Start(ctx context.Context) {
	s.gateway.Start(ctx)
	s.loop.Start(ctx)
}

// Stop halts evaluation first so no new response actions are dispatched, then
// intake, then waits for in-flight side effects.
func (s *GuardianService) Stop() {
	s.loop.Stop()
	s.gateway.Stop()
	s.controller.Wait()
}

// IngestDiagnostic validates and enqueues one diagnostic record.
func (s *GuardianService) IngestDiagnostic(rec models.DiagnosticRecord) error {
	const op = "services.IngestDiagnostic"

	if rec.ID == "" {
		return utils.NewAppError(op, utils.KindValidation, "diagnostic id is required", nil)
	}
	if rec.OverallConfidence < 0 || rec.OverallConfidence > 1 {
		return utils.NewAppError(op, utils.KindValidation,
			fmt.Sprintf("overall_confidence must be within [0,1], got %v", rec.OverallConfidence), nil)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	s.gateway.OfferDiagnostic(rec)
	return nil
}

// IngestActionPlan validates and enqueues one action-plan record or status
// update.
func (s *GuardianService) IngestActionPlan(rec models.ActionPlanRecord) error {
	const op = "services.IngestActionPlan"

	if rec.ID == "" {
		return utils.NewAppError(op, utils.KindValidation, "action plan id is required", nil)
	}
	if !rec.Status.Valid() {
		return utils.NewAppError(op, utils.KindValidation,
			fmt.Sprintf("unknown plan status %q", rec.Status), nil)
	}
	if rec.EffectivenessScore != nil && (*rec.EffectivenessScore < 0 || *rec.EffectivenessScore > 1) {
		return utils.NewAppError(op, utils.KindValidation,
			"effectiveness_score must be within [0,1]", nil)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.gateway.OfferActionPlan(rec)
	return nil
}

// Status reports the current alert state, latest snapshot and intake health.
func (s *GuardianService) Status() StatusReport {
	return StatusReport{
		Running:        s.loop.Running(),
		AlertState:     s.alerts.State(),
		LatestSnapshot: s.loop.Latest(),
		QueueDepth:     s.gateway.Depth(),
		DroppedEvents:  s.gateway.Dropped(),
		FailedActions:  s.controller.TotalFailures(),
	}
}

// Snapshots returns the retained health-snapshot history, oldest first.
func (s *GuardianService) Snapshots() []models.HealthSnapshot {
	return s.loop.Snapshots()
}

// ForceLevel overrides the alert level on operator request and runs the
// corresponding response protocol. Returns the recorded event, or nil when the
// level was already current.
func (s *GuardianService) ForceLevel(ctx context.Context, level models.AlertLevel) (*models.EmergencyEvent, error) {
	const op = "services.ForceLevel"

	if !level.Valid() {
		return nil, utils.NewAppError(op, utils.KindValidation,
			fmt.Sprintf("alert level must be within [0,3], got %d", level), nil)
	}

	var snap models.HealthSnapshot
	if latest := s.loop.Latest(); latest != nil {
		snap = *latest
	}

	transition := s.alerts.Force(level, snap)
	if transition == nil {
		return nil, nil
	}

	s.logger.Warn("operator forced alert level",
		slog.Int("from", int(transition.From)),
		slog.Int("to", int(transition.To)),
	)
	event := s.controller.Apply(ctx, *transition)
	return &event, nil
}

// Events replays the emergency-event log at or after since, in append order.
func (s *GuardianService) Events(ctx context.Context, since time.Time) ([]models.EmergencyEvent, error) {
	return s.eventLog.Replay(ctx, since)
}

// Trends mines the event log for per-level frequency and dwell statistics.
func (s *GuardianService) Trends(ctx context.Context, since time.Time) (*trends.Report, error) {
	return s.miner.Mine(ctx, since)
}
