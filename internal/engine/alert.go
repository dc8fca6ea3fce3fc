package engine

import (
	"sync"
	"time"

	"github.com/sentinelstack/guardian/internal/models"
)

// Thresholds holds the alert-level boundaries and hysteresis counts.
type Thresholds struct {
	CoherenceMin    float64
	EfficacyMin     float64
	StabilityMin    float64
	AbsoluteFloor   float64
	EscalateTicks   int
	DeescalateTicks int
}

func (t Thresholds) withDefaults() Thresholds {
	if t.CoherenceMin <= 0 {
		t.CoherenceMin = 0.7
	}
	if t.EfficacyMin <= 0 {
		t.EfficacyMin = 0.6
	}
	if t.StabilityMin <= 0 {
		t.StabilityMin = 0.6
	}
	if t.AbsoluteFloor <= 0 {
		t.AbsoluteFloor = 0.2
	}
	if t.EscalateTicks <= 0 {
		t.EscalateTicks = 3
	}
	if t.DeescalateTicks <= t.EscalateTicks {
		t.DeescalateTicks = t.EscalateTicks + 2
	}
	return t
}

// Transition describes a committed alert-level change. The engine emits
// transitions; it never runs response logic itself.
type Transition struct {
	From     models.AlertLevel
	To       models.AlertLevel
	Trigger  models.TransitionTrigger
	Snapshot models.HealthSnapshot
}

// AlertLevelEngine owns the Guardian's AlertState and decides level changes
// from per-tick health snapshots. Escalation and de-escalation use explicit
// consecutive-tick counters rather than timers so evaluation stays
// deterministic under test.
type AlertLevelEngine struct {
	mu  sync.Mutex
	cfg Thresholds
	now func() time.Time

	state models.AlertState

	// Consecutive-tick streaks. Ticks without any computable dimension touch
	// none of these.
	breachStreak  int
	twoStreak     int
	threeStreak   int
	nominalStreak int
}

// NewAlertLevelEngine creates an engine starting at level 0.
func NewAlertLevelEngine(cfg Thresholds) *AlertLevelEngine {
	e := &AlertLevelEngine{cfg: cfg.withDefaults(), now: time.Now}
	e.state.LevelSince = e.now()
	return e
}

// Evaluate folds one health snapshot into the state machine and returns the
// resulting transition, or nil when the level is unchanged.
//
// forceStabilityBreach marks the tick as a stability breach regardless of the
// measured score; the controller sets it when external response actions failed
// after retries, so the Guardian escalates instead of silently absorbing the
// failure.
func (e *AlertLevelEngine) Evaluate(snap models.HealthSnapshot, forceStabilityBreach bool) *Transition {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !snap.HasSignal() && !forceStabilityBreach {
		// Insufficient data: skip the tick without counting it as nominal.
		return nil
	}

	breached := 0
	floorHit := false

	check := func(score *float64, min float64) {
		if score == nil {
			return
		}
		if *score < min {
			breached++
		}
		if *score < e.cfg.AbsoluteFloor {
			floorHit = true
		}
	}
	check(snap.Coherence, e.cfg.CoherenceMin)
	check(snap.Efficacy, e.cfg.EfficacyMin)

	stabilityBreached := snap.Stability != nil && *snap.Stability < e.cfg.StabilityMin
	if snap.Stability != nil && *snap.Stability < e.cfg.AbsoluteFloor {
		floorHit = true
	}
	if forceStabilityBreach {
		stabilityBreached = true
	}
	if stabilityBreached {
		breached++
	}

	target := e.state.Level

	if breached > 0 {
		e.breachStreak++
		e.nominalStreak = 0
		if breached >= 2 {
			e.twoStreak++
		} else {
			e.twoStreak = 0
		}
		if breached >= 3 {
			e.threeStreak++
		} else {
			e.threeStreak = 0
		}

		switch {
		case floorHit:
			// Systemic-failure fast path bypasses escalation hysteresis.
			target = models.LevelSafeMode
		case e.threeStreak >= e.cfg.EscalateTicks:
			target = maxLevel(target, models.LevelSafeMode)
		case e.twoStreak >= e.cfg.EscalateTicks:
			target = maxLevel(target, models.LevelRestrict)
		default:
			target = maxLevel(target, models.LevelWatch)
		}
	} else {
		e.breachStreak = 0
		e.twoStreak = 0
		e.threeStreak = 0
		e.nominalStreak++

		if e.state.Level > models.LevelNominal && e.nominalStreak >= e.cfg.DeescalateTicks {
			// One level per satisfied hysteresis window; the streak restarts
			// so each further step needs a full window of its own.
			target = e.state.Level - 1
			e.nominalStreak = 0
		}
	}

	e.syncCounters()
	return e.commit(target, models.TriggerThreshold, snap)
}

// Force overrides the level on operator request, bypassing all hysteresis.
// Returns nil when the requested level equals the current one.
func (e *AlertLevelEngine) Force(level models.AlertLevel, snap models.HealthSnapshot) *Transition {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.breachStreak = 0
	e.twoStreak = 0
	e.threeStreak = 0
	e.nominalStreak = 0
	e.syncCounters()

	return e.commit(level, models.TriggerOperator, snap)
}

// State returns a copy of the authoritative alert state for readers outside
// the evaluation loop.
func (e *AlertLevelEngine) State() models.AlertState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *AlertLevelEngine) commit(target models.AlertLevel, trigger models.TransitionTrigger, snap models.HealthSnapshot) *Transition {
	if target == e.state.Level {
		return nil
	}

	from := e.state.Level
	e.state.Level = target
	e.state.LevelSince = e.now()
	e.state.SafeModeActive = target == models.LevelSafeMode

	return &Transition{From: from, To: target, Trigger: trigger, Snapshot: snap}
}

func (e *AlertLevelEngine) syncCounters() {
	e.state.ConsecutiveBreaches = e.breachStreak
	e.state.ConsecutiveNominal = e.nominalStreak
}

func maxLevel(a, b models.AlertLevel) models.AlertLevel {
	if a > b {
		return a
	}
	return b
}
