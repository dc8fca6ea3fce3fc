// Package api exposes the Guardian's REST control surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sentinelstack/guardian/internal/models"
	"github.com/sentinelstack/guardian/internal/services"
	"github.com/sentinelstack/guardian/internal/utils"
)

// Handler routes HTTP requests to the Guardian service.
type Handler struct {
	logger  *slog.Logger
	service *services.GuardianService
	// baseCtx scopes background work started via the control endpoints; the
	// request context would stop the loop as soon as the request ends.
	baseCtx context.Context
}

// NewHandler constructs the HTTP handler. baseCtx is the context background
// work is bound to.
func NewHandler(logger *slog.Logger, service *services.GuardianService, baseCtx context.Context) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Handler{logger: logger, service: service, baseCtx: baseCtx}
}

// Routes assembles the router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealthz)
	r.Get("/status", h.handleStatus)
	r.Get("/events", h.handleEvents)
	r.Get("/trends", h.handleTrends)
	r.Get("/snapshots", h.handleSnapshots)

	r.Post("/event/diagnostic", h.handleIngestDiagnostic)
	r.Post("/event/action_plan", h.handleIngestActionPlan)

	r.Post("/control/start", h.handleStart)
	r.Post("/control/stop", h.handleStop)
	r.Post("/control/force_level", h.handleForceLevel)

	return r
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status())
}

func (h *Handler) handleSnapshots(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": h.service.Snapshots()})
}

func (h *Handler) handleIngestDiagnostic(w http.ResponseWriter, r *http.Request) {
	var rec models.DiagnosticRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid diagnostic payload: "+err.Error())
		return
	}
	if err := h.service.IngestDiagnostic(rec); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "id": rec.ID})
}

func (h *Handler) handleIngestActionPlan(w http.ResponseWriter, r *http.Request) {
	var rec models.ActionPlanRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid action plan payload: "+err.Error())
		return
	}
	if err := h.service.IngestActionPlan(rec); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "id": rec.ID})
}

func (h *Handler) handleStart(w http.ResponseWriter, _ *http.Request) {
	h.service.Start(h.baseCtx)
	writeJSON(w, http.StatusOK, h.service.Status())
}

func (h *Handler) handleStop(w http.ResponseWriter, _ *http.Request) {
	h.service.Stop()
	writeJSON(w, http.StatusOK, h.service.Status())
}

func (h *Handler) handleForceLevel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level *int `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Level == nil {
		writeError(w, http.StatusBadRequest, "body must carry an integer level")
		return
	}

	// Entry actions are dispatched asynchronously and must outlive this
	// request, so they run under the handler's base context.
	event, err := h.service.ForceLevel(h.baseCtx, models.AlertLevel(*req.Level))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if event == nil {
		writeJSON(w, http.StatusOK, map[string]any{"changed": false, "state": h.service.Status().AlertState})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": true, "event": event})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	since, ok := parseSince(w, r)
	if !ok {
		return
	}

	events, err := h.service.Events(r.Context(), since)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) handleTrends(w http.ResponseWriter, r *http.Request) {
	since, ok := parseSince(w, r)
	if !ok {
		return
	}

	report, err := h.service.Trends(r.Context(), since)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func parseSince(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Time{}, true
	}
	since, err := utils.ParseRFC3339(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since must be RFC3339")
		return time.Time{}, false
	}
	return since, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var appErr *utils.AppError
	if errors.As(err, &appErr) && appErr.Kind == utils.KindValidation {
		writeError(w, http.StatusBadRequest, appErr.Msg)
		return
	}
	h.logger.Error("request failed", slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
