package history

import (
	"sync"

	"github.com/sentinelstack/guardian/internal/models"
)

// Store holds bounded ring buffers of recently observed diagnostic and
// action-plan records. Ingestion workers and the evaluation loop share it; the
// lock is held only for copy-in/copy-out so neither side stalls the other.
type Store struct {
	mu sync.Mutex

	maxDiagnostics int
	maxActionPlans int

	diagnostics []models.DiagnosticRecord
	actionPlans []models.ActionPlanRecord
	planIndex   map[string]int
}

// NewStore creates a Store with the given per-type capacities.
func NewStore(maxDiagnostics, maxActionPlans int) *Store {
	if maxDiagnostics <= 0 {
		maxDiagnostics = 500
	}
	if maxActionPlans <= 0 {
		maxActionPlans = 500
	}
	return &Store{
		maxDiagnostics: maxDiagnostics,
		maxActionPlans: maxActionPlans,
		diagnostics:    make([]models.DiagnosticRecord, 0, maxDiagnostics),
		actionPlans:    make([]models.ActionPlanRecord, 0, maxActionPlans),
		planIndex:      make(map[string]int),
	}
}

// IngestDiagnostic appends a diagnostic record, evicting the oldest entry at
// capacity. Records are immutable after ingestion.
func (s *Store) IngestDiagnostic(rec models.DiagnosticRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.diagnostics) >= s.maxDiagnostics {
		s.diagnostics = s.diagnostics[1:]
	}
	s.diagnostics = append(s.diagnostics, rec)
}

// IngestActionPlan appends a new action plan, or updates an existing plan in
// place when the ID is already known. Updates resolve last-write-wins by the
// record's revision timestamp and preserve buffer position; this is the only
// non-append mutation the store permits.
func (s *Store) IngestActionPlan(rec models.ActionPlanRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.planIndex[rec.ID]; ok {
		existing := s.actionPlans[idx]
		if rec.Revision().Before(existing.Revision()) {
			return
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = existing.CreatedAt
		}
		s.actionPlans[idx] = rec
		return
	}

	if len(s.actionPlans) >= s.maxActionPlans {
		evicted := s.actionPlans[0]
		delete(s.planIndex, evicted.ID)
		s.actionPlans = s.actionPlans[1:]
		for id, idx := range s.planIndex {
			s.planIndex[id] = idx - 1
		}
	}
	s.actionPlans = append(s.actionPlans, rec)
	s.planIndex[rec.ID] = len(s.actionPlans) - 1
}

// Snapshot returns deep copies of both buffers so analyzers never race with
// concurrent ingestion. Ordering is arrival order, oldest first.
func (s *Store) Snapshot() ([]models.DiagnosticRecord, []models.ActionPlanRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	diags := make([]models.DiagnosticRecord, len(s.diagnostics))
	for i, d := range s.diagnostics {
		diags[i] = copyDiagnostic(d)
	}
	plans := make([]models.ActionPlanRecord, len(s.actionPlans))
	for i, p := range s.actionPlans {
		plans[i] = copyActionPlan(p)
	}
	return diags, plans
}

// Sizes reports the current buffer lengths.
func (s *Store) Sizes() (diagnostics, actionPlans int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.diagnostics), len(s.actionPlans)
}

func copyDiagnostic(d models.DiagnosticRecord) models.DiagnosticRecord {
	out := d
	out.Anomalies = append([]models.AnomalyFinding(nil), d.Anomalies...)
	out.PotentialCauses = append([]models.CauseHypothesis(nil), d.PotentialCauses...)
	return out
}

func copyActionPlan(p models.ActionPlanRecord) models.ActionPlanRecord {
	out := p
	if p.EffectivenessScore != nil {
		score := *p.EffectivenessScore
		out.EffectivenessScore = &score
	}
	if p.CancelledAt != nil {
		ts := *p.CancelledAt
		out.CancelledAt = &ts
	}
	return out
}
