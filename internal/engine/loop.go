package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelstack/guardian/internal/analyzers"
	"github.com/sentinelstack/guardian/internal/history"
	"github.com/sentinelstack/guardian/internal/metrics"
	"github.com/sentinelstack/guardian/internal/models"
	"github.com/sentinelstack/guardian/internal/utils"
)

// LoopConfig tunes the evaluation loop.
type LoopConfig struct {
	TickInterval    time.Duration
	SnapshotHistory int
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.TickInterval <= 0 {
		c.TickInterval = 10 * time.Second
	}
	if c.SnapshotHistory <= 0 {
		c.SnapshotHistory = 60
	}
	return c
}

// Loop runs the tick cycle on a single dedicated goroutine: history snapshot,
// analysis, alert-level evaluation, protocol dispatch. Per-tick errors are
// logged with the triggering snapshot and never abort the loop.
type Loop struct {
	logger     *slog.Logger
	cfg        LoopConfig
	store      *history.Store
	coherence  *analyzers.CoherenceAnalyzer
	efficacy   *analyzers.EfficacyAnalyzer
	stability  *analyzers.StabilityAnalyzer
	alerts     *AlertLevelEngine
	controller *ProtocolController
	latencies  *utils.LatencyTracker

	snapMu    sync.RWMutex
	snapshots []models.HealthSnapshot

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLoop assembles an evaluation loop over the given components.
func NewLoop(
	logger *slog.Logger,
	cfg LoopConfig,
	store *history.Store,
	analysis analyzers.Config,
	alerts *AlertLevelEngine,
	controller *ProtocolController,
) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger:     logger,
		cfg:        cfg.withDefaults(),
		store:      store,
		coherence:  analyzers.NewCoherenceAnalyzer(analysis),
		efficacy:   analyzers.NewEfficacyAnalyzer(analysis),
		stability:  analyzers.NewStabilityAnalyzer(analysis),
		alerts:     alerts,
		controller: controller,
		latencies:  utils.NewLatencyTracker(1024),
	}
}

// Start launches the tick cycle. Idempotent: a second call is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	go l.run(runCtx)
	l.logger.Info("evaluation loop started", slog.Duration("tick_interval", l.cfg.TickInterval))
}

// Stop signals the loop to finish its current tick and halt, then waits for
// it. Idempotent and safe to call while a tick is in progress.
func (l *Loop) Stop() {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if !l.running {
		return
	}
	l.cancel()
	<-l.done
	l.running = false
	l.logger.Info("evaluation loop stopped")
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	return l.running
}

// Tick performs one evaluation pass. Exposed so tests can drive the state
// machine deterministically without the wall clock.
func (l *Loop) Tick(ctx context.Context) {
	start := time.Now()

	diags, plans := l.store.Snapshot()
	snap := l.assess(diags, plans)

	l.pushSnapshot(snap)

	forcedBreach := l.controller.ConsumePendingFailures() > 0
	if forcedBreach {
		l.logger.Warn("response failures re-injected as stability breach", slog.Any("snapshot", snap))
	}

	outcome := metrics.OutcomeEvaluated
	if !snap.HasSignal() && !forcedBreach {
		outcome = metrics.OutcomeSkipped
	}

	if transition := l.alerts.Evaluate(snap, forcedBreach); transition != nil {
		l.controller.Apply(ctx, *transition)
	}

	state := l.alerts.State()
	metrics.SetAlertLevel(int(state.Level), state.SafeModeActive)

	duration := time.Since(start)
	l.latencies.Observe(duration)
	metrics.ObserveTick(duration, outcome)
	if count := l.latencies.Count(); count >= 100 && count%100 == 0 {
		l.logger.Info("tick latency", slog.Duration("p95", l.latencies.Percentile(95)), slog.Int("samples", count))
	}
}

// Latest returns the most recent health snapshot, or nil before the first
// evaluated tick.
func (l *Loop) Latest() *models.HealthSnapshot {
	l.snapMu.RLock()
	defer l.snapMu.RUnlock()
	if len(l.snapshots) == 0 {
		return nil
	}
	snap := l.snapshots[len(l.snapshots)-1]
	return &snap
}

// Snapshots returns a copy of the retained snapshot ring, oldest first. The
// ring exists for trend display only and is never authoritative state.
func (l *Loop) Snapshots() []models.HealthSnapshot {
	l.snapMu.RLock()
	defer l.snapMu.RUnlock()
	return append([]models.HealthSnapshot(nil), l.snapshots...)
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// assess runs the three analyzers over one consistent history snapshot.
// Insufficient data leaves the corresponding dimension nil: "no signal", not
// healthy.
func (l *Loop) assess(diags []models.DiagnosticRecord, plans []models.ActionPlanRecord) models.HealthSnapshot {
	snap := models.HealthSnapshot{
		Timestamp: time.Now().UTC(),
		SampleSizes: models.SampleSizes{
			Diagnostics:    len(diags),
			ActionPlans:    len(plans),
			CompletedPlans: l.efficacy.CompletedCount(plans),
		},
	}

	if score, err := l.coherence.Score(diags); err == nil {
		snap.Coherence = &score
	} else if !errors.Is(err, analyzers.ErrInsufficientData) {
		l.logger.Error("coherence analysis failed", slog.Any("error", err))
	}

	if score, err := l.efficacy.Score(plans); err == nil {
		snap.Efficacy = &score
	} else if !errors.Is(err, analyzers.ErrInsufficientData) {
		l.logger.Error("efficacy analysis failed", slog.Any("error", err))
	}

	if score, err := l.stability.Score(plans); err == nil {
		snap.Stability = &score
	} else if !errors.Is(err, analyzers.ErrInsufficientData) {
		l.logger.Error("stability analysis failed", slog.Any("error", err))
	}

	return snap
}

func (l *Loop) pushSnapshot(snap models.HealthSnapshot) {
	l.snapMu.Lock()
	defer l.snapMu.Unlock()
	l.snapshots = append(l.snapshots, snap)
	if len(l.snapshots) > l.cfg.SnapshotHistory {
		l.snapshots = l.snapshots[1:]
	}
}
