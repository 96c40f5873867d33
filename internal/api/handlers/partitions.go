package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/logger"
)

// PartitionHandler exposes warehouse partitions for inspection
type PartitionHandler struct {
	warehouse contracts.Warehouse
	logger    *logger.Logger
}

// NewPartitionHandler creates a new partition handler
func NewPartitionHandler(wh contracts.Warehouse, log *logger.Logger) *PartitionHandler {
	return &PartitionHandler{
		warehouse: wh,
		logger:    log.WithField("handler", "partitions"),
	}
}

// PartitionResponse is one window_date of analytics rows
type PartitionResponse struct {
	WindowDate string                   `json:"window_date"`
	Count      int                      `json:"count"`
	Rows       []contracts.AnalyticsRow `json:"rows"`
}

// GetPartition returns every row of one window_date
// GET /api/partitions/{date}
func (h *PartitionHandler) GetPartition(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateVar(w, r)
	if !ok {
		return
	}

	rows, err := h.warehouse.Partition(r.Context(), date)
	if err != nil {
		h.logger.WithError(err).WithField("window_date", contracts.DateKey(date)).Error("Failed to read partition")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve partition")
		return
	}
	if rows == nil {
		rows = []contracts.AnalyticsRow{}
	}

	respondJSON(w, http.StatusOK, PartitionResponse{
		WindowDate: contracts.DateKey(date),
		Count:      len(rows),
		Rows:       rows,
	})
}

// GetHoldings returns the holdings snapshot of one as-of date
// GET /api/holdings/{date}
func (h *PartitionHandler) GetHoldings(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateVar(w, r)
	if !ok {
		return
	}

	holdings, err := h.warehouse.Holdings(r.Context(), date)
	if err != nil {
		h.logger.WithError(err).WithField("as_of", contracts.DateKey(date)).Error("Failed to read holdings")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve holdings")
		return
	}
	if holdings == nil {
		holdings = []contracts.Holding{}
	}

	respondJSON(w, http.StatusOK, holdings)
}

func parseDateVar(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	date, err := time.Parse(time.DateOnly, mux.Vars(r)["date"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid date format (expected YYYY-MM-DD)")
		return time.Time{}, false
	}
	return date, true
}
