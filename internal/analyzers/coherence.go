package analyzers

import "github.com/sentinelstack/guardian/internal/models"

// CoherenceAnalyzer measures the consistency of recent diagnoses: a high rate
// of low-confidence or mutually contradictory findings lowers the score.
type CoherenceAnalyzer struct {
	cfg Config
}

// NewCoherenceAnalyzer creates a coherence analyzer.
func NewCoherenceAnalyzer(cfg Config) *CoherenceAnalyzer {
	return &CoherenceAnalyzer{cfg: cfg.withDefaults()}
}

// Score computes coherence in [0,1] over the most recent window of
// diagnostics. The base score is one minus the low-confidence fraction; when
// ContradictionWeight is positive it is further discounted by the rate at
// which anomaly dimensions churn between adjacent diagnoses. The output is
// monotonically decreasing in both rates.
func (a *CoherenceAnalyzer) Score(diagnostics []models.DiagnosticRecord) (float64, error) {
	window := tail(diagnostics, a.cfg.WindowDiagnostics)
	if len(window) < a.cfg.MinDiagnostics {
		return 0, ErrInsufficientData
	}

	lowConfidence := 0
	for _, d := range window {
		if d.OverallConfidence < a.cfg.LowConfidenceThreshold {
			lowConfidence++
		}
	}
	score := 1 - float64(lowConfidence)/float64(len(window))

	if a.cfg.ContradictionWeight > 0 {
		score *= 1 - a.cfg.ContradictionWeight*contradictionRate(window)
	}

	return clamp(score, 0, 1), nil
}

// contradictionRate is a proxy for contradictory findings: for each pair of
// adjacent diagnoses it compares the sets of anomaly dimensions and reports
// the mean Jaccard distance. Stable dimension sets yield 0, full churn 1.
func contradictionRate(window []models.DiagnosticRecord) float64 {
	pairs := 0
	total := 0.0
	for i := 1; i < len(window); i++ {
		prev := dimensionSet(window[i-1])
		curr := dimensionSet(window[i])
		if len(prev) == 0 && len(curr) == 0 {
			continue
		}
		pairs++
		total += 1 - jaccard(prev, curr)
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}

func dimensionSet(d models.DiagnosticRecord) map[string]struct{} {
	set := make(map[string]struct{}, len(d.Anomalies))
	for _, a := range d.Anomalies {
		if a.Dimension != "" {
			set[a.Dimension] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}
