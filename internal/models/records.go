package models

import "time"

// AnomalyFinding is a single anomalous dimension reported by the diagnosis pipeline.
type AnomalyFinding struct {
	Dimension string  `json:"dimension"`
	Severity  float64 `json:"severity"`
}

// CauseHypothesis is one candidate root cause attached to a diagnosis.
type CauseHypothesis struct {
	Description string  `json:"description"`
	Probability float64 `json:"probability"`
}

// DiagnosticRecord is one diagnosis emitted by the external diagnosis pipeline.
// Records are immutable once ingested.
type DiagnosticRecord struct {
	ID                string            `json:"id"`
	Timestamp         time.Time         `json:"timestamp"`
	OverallConfidence float64           `json:"overall_confidence"`
	Anomalies         []AnomalyFinding  `json:"anomalies,omitempty"`
	PotentialCauses   []CauseHypothesis `json:"potential_causes,omitempty"`
}

// PlanStatus enumerates the lifecycle states of an action plan.
type PlanStatus string

const (
	PlanProposed  PlanStatus = "proposed"
	PlanExecuting PlanStatus = "executing"
	PlanCompleted PlanStatus = "completed"
	PlanCancelled PlanStatus = "cancelled"
	PlanFailed    PlanStatus = "failed"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanProposed, PlanExecuting, PlanCompleted, PlanCancelled, PlanFailed:
		return true
	}
	return false
}

// ActionPlanRecord is one action plan emitted by the external action-generation
// pipeline. Subsequent events with the same ID are status updates and replace
// the stored record last-write-wins by UpdatedAt.
type ActionPlanRecord struct {
	ID                 string     `json:"id"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at,omitempty"`
	Status             PlanStatus `json:"status"`
	EffectivenessScore *float64   `json:"effectiveness_score,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
}

// Revision returns the timestamp used for last-write-wins conflict resolution.
func (p ActionPlanRecord) Revision() time.Time {
	if !p.UpdatedAt.IsZero() {
		return p.UpdatedAt
	}
	return p.CreatedAt
}
