package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiln/internal/ledger"
	"github.com/thebtf/kiln/internal/pipeline"
	"github.com/thebtf/kiln/internal/predict"
	"github.com/thebtf/kiln/pkg/models"
)

const defaultEventLimit = 50

type ingestRequest struct {
	SourceType string   `json:"source_type"`
	SourceName string   `json:"source_name"`
	Project    string   `json:"project"`
	Payload    string   `json:"payload,omitempty"`
	Payloads   []string `json:"payloads,omitempty"`
}

type ingestResponse struct {
	SessionID string   `json:"session_id"`
	ItemIDs   []string `json:"item_ids"`
}

func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payloads := req.Payloads
	if req.Payload != "" {
		payloads = append(payloads, req.Payload)
	}
	if len(payloads) == 0 {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}

	session, err := s.orchestrator.CreateSession(r.Context(), models.SourceType(req.SourceType), req.SourceName, req.Project)
	if err != nil {
		if errors.Is(err, pipeline.ErrLedgerUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := s.orchestrator.IngestBatch(r.Context(), session.ID, payloads)
	if err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).Msg("Failed to ingest batch")
		writeStoreError(w, err)
		return
	}

	itemIDs := make([]string, len(items))
	for i, item := range items {
		itemIDs[i] = item.ID
	}
	writeJSON(w, http.StatusAccepted, ingestResponse{SessionID: session.ID, ItemIDs: itemIDs})
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	summary, err := s.orchestrator.GetSessionStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Service) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.orchestrator.ActiveSessions(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Service) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.CancelSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Service) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := s.flow.Recent(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Service) handleItemEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.flow.ByItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Service) handleEventStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := s.broadcaster.AddClient(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer s.broadcaster.RemoveClient(client)

	client.Flusher.Flush()
	select {
	case <-r.Context().Done():
	case <-client.Done:
	}
}

type predictRequest struct {
	PatternID   string  `json:"pattern_id"`
	EffortHours float64 `json:"effort_hours,omitempty"`
}

func (s *Service) handlePredictSuccess(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePredict(w, r)
	if !ok {
		return
	}
	pred, err := s.engine.PredictSuccess(r.Context(), req.PatternID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func (s *Service) handlePredictROI(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePredict(w, r)
	if !ok {
		return
	}
	pred, err := s.engine.PredictROI(r.Context(), req.PatternID, predict.ROIContext{EffortHours: req.EffortHours})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func (s *Service) handlePredictStrategy(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePredict(w, r)
	if !ok {
		return
	}
	options, err := s.engine.RecommendStrategy(r.Context(), req.PatternID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": options})
}

type retrainRequest struct {
	Kind string `json:"kind"`
}

func (s *Service) handleRetrain(w http.ResponseWriter, r *http.Request) {
	var req retrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	model, err := s.engine.Retrain(r.Context(), models.ModelKind(req.Kind))
	if err != nil {
		switch {
		case errors.Is(err, predict.ErrRetrainInProgress):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, predict.ErrInsufficientData):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, model)
}

type outcomeRequest struct {
	PatternID string  `json:"pattern_id"`
	Outcome   float64 `json:"outcome"`
}

func (s *Service) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PatternID == "" {
		writeError(w, http.StatusBadRequest, "pattern_id is required")
		return
	}
	updated, err := s.engine.RecordOutcome(r.Context(), req.PatternID, req.Outcome)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records_updated": updated})
}

func (s *Service) handleReconcile(w http.ResponseWriter, r *http.Request) {
	reconciled, err := s.orchestrator.Reconcile(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items_reconciled": reconciled})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stores := make(map[string]bool, len(s.adapters))
	healthy := true
	for _, adapter := range s.adapters {
		ok := adapter.Health(ctx)
		stores[string(adapter.Name())] = ok
		if !ok {
			healthy = false
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":  state,
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
		"stores":  stores,
	})
}

func decodePredict(w http.ResponseWriter, r *http.Request) (predictRequest, bool) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.PatternID == "" {
		writeError(w, http.StatusBadRequest, "pattern_id is required")
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrSessionNotActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrLedgerUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
