package models

import "time"

// TransitionTrigger classifies what caused a level transition.
type TransitionTrigger string

const (
	// TriggerThreshold marks transitions driven by the alert-level engine.
	TriggerThreshold TransitionTrigger = "threshold"
	// TriggerOperator marks transitions forced through the control API.
	TriggerOperator TransitionTrigger = "operator_override"
)

// EmergencyEvent is the append-only audit record created on every level
// transition. Events are write-once; the Guardian never mutates or deletes
// them.
type EmergencyEvent struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	FromLevel      AlertLevel        `json:"from_level"`
	ToLevel        AlertLevel        `json:"to_level"`
	Trigger        TransitionTrigger `json:"trigger"`
	TriggerMetrics HealthSnapshot    `json:"trigger_metrics"`
	ActionsTaken   []string          `json:"actions_taken,omitempty"`
}
