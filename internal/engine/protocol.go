package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelstack/guardian/internal/eventlog"
	"github.com/sentinelstack/guardian/internal/metrics"
	"github.com/sentinelstack/guardian/internal/models"
)

// Responder is the outbound surface towards the self-healing pipeline. Every
// call carries a bounded timeout; implementations retry with backoff and
// return the final error so the controller can treat persistent failure as an
// escalation signal.
type Responder interface {
	RequestSecondaryDiagnosis(ctx context.Context) error
	NarrowMonitoringScope(ctx context.Context) error
	RestoreMonitoringScope(ctx context.Context) error
	IncreaseValidationFrequency(ctx context.Context) error
	EnterRestrictedMode(ctx context.Context) error
	ExitRestrictedMode(ctx context.Context) error
	RequestRollback(ctx context.Context, targetRevision string) error
	RequestRecalibration(ctx context.Context) error
	NotifyOperators(ctx context.Context, message string, severity string) error
	DisableAutonomy(ctx context.Context) error
	EnableAutonomy(ctx context.Context) error
	RequestHumanControl(ctx context.Context) error
	RequestRecovery(ctx context.Context) error
}

// FlagBroadcaster pushes the current level and safe-mode flag to pipeline
// components that subscribe for control-plane changes. Optional.
type FlagBroadcaster interface {
	PublishLevel(ctx context.Context, level models.AlertLevel, safeMode bool) error
}

// ProtocolControllerConfig tunes side-effect dispatch.
type ProtocolControllerConfig struct {
	// ActionTimeout bounds each outbound call, including its retries.
	ActionTimeout time.Duration
	// RollbackRevision is the revision label passed to rollback requests.
	RollbackRevision string
}

func (c ProtocolControllerConfig) withDefaults() ProtocolControllerConfig {
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 30 * time.Second
	}
	if c.RollbackRevision == "" {
		c.RollbackRevision = "last-known-stable"
	}
	return c
}

// namedAction pairs an audit label with the outbound call it triggers.
type namedAction struct {
	name string
	call func(ctx context.Context) error
}

// ProtocolController executes the emergency response protocol on alert-level
// transitions. Side effects are dispatched asynchronously (fire-and-track) so
// a slow collaborator never stalls the evaluation loop; each transition is
// recorded as one EmergencyEvent before dispatch.
type ProtocolController struct {
	logger      *slog.Logger
	cfg         ProtocolControllerConfig
	responder   Responder
	broadcaster FlagBroadcaster
	log         eventlog.Store

	pendingFailures atomic.Int64
	totalFailures   atomic.Int64
	inflight        sync.WaitGroup
}

// NewProtocolController constructs a controller. broadcaster may be nil.
func NewProtocolController(logger *slog.Logger, cfg ProtocolControllerConfig, responder Responder, broadcaster FlagBroadcaster, log eventlog.Store) *ProtocolController {
	if logger == nil {
		logger = slog.Default()
	}
	if log == nil {
		log = eventlog.NewMemoryStore()
	}
	return &ProtocolController{
		logger:      logger,
		cfg:         cfg.withDefaults(),
		responder:   responder,
		broadcaster: broadcaster,
		log:         log,
	}
}

// Apply records the transition and dispatches its response actions. Called
// from the evaluation loop only, so EmergencyEvents are appended in tick
// order.
func (c *ProtocolController) Apply(ctx context.Context, t Transition) models.EmergencyEvent {
	actions := c.actionsFor(t)

	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, a.name)
	}

	event := models.EmergencyEvent{
		ID:             uuid.New().String(),
		Timestamp:      time.Now().UTC(),
		FromLevel:      t.From,
		ToLevel:        t.To,
		Trigger:        t.Trigger,
		TriggerMetrics: t.Snapshot,
		ActionsTaken:   names,
	}
	if err := c.log.Append(ctx, event); err != nil {
		c.logger.Error("emergency event append failed", slog.Any("error", err), slog.Int("to_level", int(t.To)))
	}

	metrics.ObserveTransition(int(t.From), int(t.To))
	c.logger.Warn("alert level transition",
		slog.Int("from", int(t.From)),
		slog.Int("to", int(t.To)),
		slog.String("trigger", string(t.Trigger)),
		slog.Any("actions", names),
	)

	// Broadcast rides the same fire-and-track path as the response actions so
	// a slow subscriber cannot stall the evaluation loop.
	if c.broadcaster != nil {
		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()

			bctx, cancel := context.WithTimeout(ctx, c.cfg.ActionTimeout)
			defer cancel()

			if err := c.broadcaster.PublishLevel(bctx, t.To, t.To == models.LevelSafeMode); err != nil {
				c.logger.Warn("level broadcast failed", slog.Any("error", err))
			}
		}()
	}

	for _, action := range actions {
		c.dispatch(ctx, action)
	}

	return event
}

// ConsumePendingFailures returns the number of response actions that failed
// since the last call and resets the count. The evaluation loop re-injects a
// positive count as a stability breach.
func (c *ProtocolController) ConsumePendingFailures() int {
	return int(c.pendingFailures.Swap(0))
}

// TotalFailures returns the lifetime count of failed response actions.
func (c *ProtocolController) TotalFailures() int64 {
	return c.totalFailures.Load()
}

// Wait blocks until all dispatched side effects have finished. Used on
// shutdown and in tests; already-issued irreversible actions are not
// retracted.
func (c *ProtocolController) Wait() {
	c.inflight.Wait()
}

func (c *ProtocolController) dispatch(ctx context.Context, action namedAction) {
	if c.responder == nil {
		return
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()

		actionCtx, cancel := context.WithTimeout(ctx, c.cfg.ActionTimeout)
		defer cancel()

		if err := action.call(actionCtx); err != nil {
			c.pendingFailures.Add(1)
			c.totalFailures.Add(1)
			metrics.IncResponseFailure(action.name)
			c.logger.Error("response action failed",
				slog.String("action", action.name),
				slog.Any("error", err),
			)
		}
	}()
}

// actionsFor maps a transition to its response actions. Escalations run the
// entry set of the target level; de-escalations notify operators and, on
// reaching level 0, lift every restriction imposed on the way up.
func (c *ProtocolController) actionsFor(t Transition) []namedAction {
	r := c.responder
	if r == nil {
		return nil
	}

	if t.To > t.From {
		switch t.To {
		case models.LevelWatch:
			return []namedAction{
				{"request_secondary_diagnosis", r.RequestSecondaryDiagnosis},
				{"narrow_monitoring_scope", r.NarrowMonitoringScope},
				{"increase_validation_frequency", r.IncreaseValidationFrequency},
				{"notify_operators", c.notify(t, "self-healing loop degraded, second opinion requested", "warning")},
			}
		case models.LevelRestrict:
			return []namedAction{
				{"enter_restricted_mode", r.EnterRestrictedMode},
				{"request_rollback", func(ctx context.Context) error {
					return r.RequestRollback(ctx, c.cfg.RollbackRevision)
				}},
				{"notify_operators", c.notify(t, "autonomous action generation restricted, rollback requested", "critical")},
				{"request_recalibration", r.RequestRecalibration},
			}
		case models.LevelSafeMode:
			return []namedAction{
				{"disable_autonomy", r.DisableAutonomy},
				{"request_human_control", r.RequestHumanControl},
				{"request_recovery", r.RequestRecovery},
				{"notify_operators", c.notify(t, "safe mode engaged, direct human control requested", "critical")},
			}
		}
		return nil
	}

	if t.To == models.LevelNominal {
		return []namedAction{
			{"restore_monitoring_scope", r.RestoreMonitoringScope},
			{"exit_restricted_mode", r.ExitRestrictedMode},
			{"enable_autonomy", r.EnableAutonomy},
			{"notify_operators", c.notify(t, "self-healing loop recovered, restrictions lifted", "info")},
		}
	}

	return []namedAction{
		{"notify_operators", c.notify(t, "alert level lowered", "info")},
	}
}

func (c *ProtocolController) notify(t Transition, message string, severity string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return c.responder.NotifyOperators(ctx, message, severity)
	}
}
