package main

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

type anomalyFinding struct {
	Dimension string  `json:"dimension"`
	Severity  float64 `json:"severity"`
}

type diagnosticRecord struct {
	ID                string           `json:"id"`
	Timestamp         time.Time        `json:"timestamp"`
	OverallConfidence float64          `json:"overall_confidence"`
	Anomalies         []anomalyFinding `json:"anomalies,omitempty"`
}

type actionPlanRecord struct {
	ID                 string    `json:"id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at,omitempty"`
	Status             string    `json:"status"`
	EffectivenessScore *float64  `json:"effectiveness_score,omitempty"`
}

func main() {
	mux := http.NewServeMux()
	seq := 0

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Control surface the Guardian drives during escalations. Everything
	// acknowledges immediately; the point is exercising the wire protocol.
	controlPaths := []string{
		"/control/secondary-diagnosis",
		"/control/monitoring-scope",
		"/control/validation-frequency",
		"/control/restricted-mode",
		"/control/rollback",
		"/control/recalibration",
		"/control/autonomy",
		"/control/human-control",
		"/control/recovery",
		"/notifications",
	}
	for _, path := range controlPaths {
		path := path
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if !enforcePost(w, r) {
				return
			}
			var payload map[string]any
			_ = json.NewDecoder(r.Body).Decode(&payload)
			log.Printf("control call %s payload=%v", path, payload)
			writeJSON(w, map[string]string{"status": "acknowledged"})
		})
	}

	// Pull endpoints for the Guardian's poller. Confidence degrades over time
	// so a locally running Guardian eventually escalates.
	mux.HandleFunc("/events/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		seq++
		confidence := 0.9 - 0.6*rand.Float64()
		writeJSON(w, []diagnosticRecord{
			{
				ID:                "mock-diag-" + strconv.Itoa(seq),
				Timestamp:         time.Now().UTC(),
				OverallConfidence: confidence,
				Anomalies: []anomalyFinding{
					{Dimension: "latency_p99", Severity: 0.4 + 0.5*rand.Float64()},
				},
			},
		})
	})

	mux.HandleFunc("/events/action_plans", func(w http.ResponseWriter, r *http.Request) {
		seq++
		statuses := []string{"proposed", "executing", "completed", "cancelled"}
		status := statuses[rand.Intn(len(statuses))]
		rec := actionPlanRecord{
			ID:        "mock-plan-" + strconv.Itoa(seq),
			CreatedAt: time.Now().UTC(),
			Status:    status,
		}
		if status == "completed" {
			score := 0.3 + 0.7*rand.Float64()
			rec.EffectivenessScore = &score
		}
		writeJSON(w, []actionPlanRecord{rec})
	})

	logger := log.New(log.Writer(), "pipeline-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
