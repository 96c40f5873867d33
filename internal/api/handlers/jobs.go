package handlers

import (
	"net/http"

	"github.com/wonny/finpipe/internal/scheduler"
)

// JobStatsSource reports scheduler statistics
type JobStatsSource interface {
	GetJobStats() map[string]scheduler.JobStats
}

// JobHandler exposes scheduler state
type JobHandler struct {
	scheduler JobStatsSource
}

// NewJobHandler creates a new job handler
func NewJobHandler(s JobStatsSource) *JobHandler {
	return &JobHandler{scheduler: s}
}

// Stats returns per-job statistics
// GET /api/jobs
func (h *JobHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.scheduler.GetJobStats())
}
