package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/internal/scheduler"
	"github.com/wonny/finpipe/pkg/logger"
)

// RunSubmitter starts pipeline runs in the background
type RunSubmitter interface {
	Submit(scheduledFor time.Time) (*contracts.LoadBatch, error)
	Running() map[string]string
}

// RunHandler handles run trigger and audit endpoints
// ⭐ SSOT: 실행 API 핸들러는 이 구조체에서만
type RunHandler struct {
	runs     RunSubmitter
	batches  contracts.BatchRepository
	schedule string
	now      func() time.Time
	logger   *logger.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(
	runs RunSubmitter,
	batches contracts.BatchRepository,
	schedule string,
	log *logger.Logger,
) *RunHandler {
	return &RunHandler{
		runs:     runs,
		batches:  batches,
		schedule: schedule,
		now:      time.Now,
		logger:   log.WithField("handler", "runs"),
	}
}

// TriggerRequest represents a manual run request
type TriggerRequest struct {
	ScheduledFor string `json:"scheduled_for"` // Optional: RFC 3339 or YYYY-MM-DD, empty = current slot
}

// Trigger starts a run for the requested slot
// POST /api/runs
func (h *RunHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	slot, err := scheduler.ResolveSlot(h.schedule, req.ScheduledFor, h.now())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	batch, err := h.runs.Submit(slot)
	if errors.Is(err, contracts.ErrRunInProgress) {
		respondError(w, http.StatusConflict, "A run for this interval is already in progress")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to submit run")
		respondError(w, http.StatusInternalServerError, "Failed to start run")
		return
	}

	respondJSON(w, http.StatusAccepted, batch)
}

// List returns recent batches, newest first
// GET /api/runs?limit=20
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	batches, err := h.batches.ListBatches(r.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list batches")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve runs")
		return
	}
	if batches == nil {
		batches = []*contracts.LoadBatch{}
	}

	respondJSON(w, http.StatusOK, batches)
}

// Get returns one batch
// GET /api/runs/{id}
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	batch, err := h.batches.GetBatch(r.Context(), id)
	if errors.Is(err, contracts.ErrBatchNotFound) {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("batch_id", id).Error("Failed to get batch")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve run")
		return
	}

	respondJSON(w, http.StatusOK, batch)
}

// Active returns the intervals currently running in this process
// GET /api/runs/active
func (h *RunHandler) Active(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.runs.Running())
}
