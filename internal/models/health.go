package models

import "time"

// SampleSizes records how many history entries each analyzer considered.
type SampleSizes struct {
	Diagnostics    int `json:"diagnostics"`
	ActionPlans    int `json:"action_plans"`
	CompletedPlans int `json:"completed_plans"`
}

// HealthSnapshot is the ephemeral per-tick assessment of the self-healing loop.
// A nil score means the corresponding analyzer had insufficient data ("no
// signal"), which is distinct from a healthy 1.0.
type HealthSnapshot struct {
	Coherence   *float64    `json:"coherence,omitempty"`
	Efficacy    *float64    `json:"efficacy,omitempty"`
	Stability   *float64    `json:"stability,omitempty"`
	SampleSizes SampleSizes `json:"sample_sizes"`
	Timestamp   time.Time   `json:"timestamp"`
}

// HasSignal reports whether at least one dimension could be computed.
func (s HealthSnapshot) HasSignal() bool {
	return s.Coherence != nil || s.Efficacy != nil || s.Stability != nil
}

// AlertLevel is the discrete escalation stage: 0 nominal through 3 safe mode.
type AlertLevel int

const (
	LevelNominal  AlertLevel = 0
	LevelWatch    AlertLevel = 1
	LevelRestrict AlertLevel = 2
	LevelSafeMode AlertLevel = 3
)

// Valid reports whether the level is within the defined range.
func (l AlertLevel) Valid() bool {
	return l >= LevelNominal && l <= LevelSafeMode
}

// AlertState is the Guardian's authoritative mutable state. Exactly one
// instance exists per Guardian; mutations happen only through level
// transitions under the owning engine's lock.
type AlertState struct {
	Level               AlertLevel `json:"level"`
	LevelSince          time.Time  `json:"level_since"`
	ConsecutiveBreaches int        `json:"consecutive_ticks_above_threshold"`
	ConsecutiveNominal  int        `json:"consecutive_ticks_below_threshold"`
	SafeModeActive      bool       `json:"safe_mode_active"`
}
