package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/finpipe/internal/api/handlers"
	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/internal/s2_load/warehouse"
	"github.com/wonny/finpipe/internal/scheduler"
	"github.com/wonny/finpipe/pkg/logger"
)

type fakeSubmitter struct {
	busy  bool
	slots []time.Time
}

func (f *fakeSubmitter) Submit(scheduledFor time.Time) (*contracts.LoadBatch, error) {
	if f.busy {
		return nil, contracts.ErrRunInProgress
	}
	f.slots = append(f.slots, scheduledFor)
	return &contracts.LoadBatch{
		BatchID:      "b-new",
		ScheduledFor: scheduledFor,
		Status:       contracts.BatchPending,
	}, nil
}

func (f *fakeSubmitter) Running() map[string]string {
	return map[string]string{"2024-03-05T06:00:00Z": "b-new"}
}

type fakeStats struct{}

func (fakeStats) GetJobStats() map[string]scheduler.JobStats {
	return map[string]scheduler.JobStats{"financial_etl": {JobName: "financial_etl", TotalRuns: 3}}
}

func newTestRouter(t *testing.T, sub *fakeSubmitter) (http.Handler, *warehouse.Memory) {
	t.Helper()
	wh := warehouse.NewMemory()
	ctx := context.Background()

	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	_, err := wh.UpsertPartition(ctx, day, []contracts.AnalyticsRow{{
		Symbol:      "ACME",
		WindowDate:  day,
		Category:    contracts.CategoryEquity,
		Close:       null.FloatFrom(110),
		LoadBatchID: "b-old",
	}})
	require.NoError(t, err)
	require.NoError(t, wh.SaveBatch(ctx, &contracts.LoadBatch{
		BatchID:      "b-old",
		ScheduledFor: day.Add(6 * time.Hour),
		StartedAt:    day.Add(6 * time.Hour),
		Status:       contracts.BatchSucceeded,
		AttemptCount: 1,
		RowsWritten:  1,
	}))

	log := logger.Nop()
	return NewRouter(Handlers{
		Runs:       handlers.NewRunHandler(sub, wh, "0 0 6 * * *", log),
		Partitions: handlers.NewPartitionHandler(wh, log),
		Jobs:       handlers.NewJobHandler(fakeStats{}),
	}, log), wh
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, &fakeSubmitter{})
	rec := do(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestTriggerRun(t *testing.T) {
	tests := []struct {
		name     string
		busy     bool
		body     string
		wantCode int
		wantSlot time.Time
	}{
		{
			name:     "explicit date",
			body:     `{"scheduled_for":"2024-03-01"}`,
			wantCode: http.StatusAccepted,
			wantSlot: time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC),
		},
		{
			name:     "explicit timestamp",
			body:     `{"scheduled_for":"2024-03-01T06:00:00Z"}`,
			wantCode: http.StatusAccepted,
			wantSlot: time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC),
		},
		{name: "no body uses current slot", wantCode: http.StatusAccepted},
		{name: "bad date", body: `{"scheduled_for":"soon"}`, wantCode: http.StatusBadRequest},
		{name: "bad json", body: `{`, wantCode: http.StatusBadRequest},
		{name: "interval in progress", busy: true, body: `{"scheduled_for":"2024-03-01"}`, wantCode: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{busy: tt.busy}
			router, _ := newTestRouter(t, sub)

			rec := do(t, router, http.MethodPost, "/api/runs", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			if tt.wantCode != http.StatusAccepted {
				assert.Empty(t, sub.slots)
				return
			}
			require.Len(t, sub.slots, 1)
			if !tt.wantSlot.IsZero() {
				assert.True(t, tt.wantSlot.Equal(sub.slots[0]))
			}

			var batch contracts.LoadBatch
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
			assert.Equal(t, "b-new", batch.BatchID)
			assert.Equal(t, contracts.BatchPending, batch.Status)
		})
	}
}

func TestRunsAudit(t *testing.T) {
	router, _ := newTestRouter(t, &fakeSubmitter{})

	rec := do(t, router, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var batches []contracts.LoadBatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batches))
	require.Len(t, batches, 1)
	assert.Equal(t, "b-old", batches[0].BatchID)

	rec = do(t, router, http.MethodGet, "/api/runs/b-old", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/runs?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/runs/active", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "b-new")
}

func TestPartitions(t *testing.T) {
	router, _ := newTestRouter(t, &fakeSubmitter{})

	rec := do(t, router, http.MethodGet, "/api/partitions/2024-03-05", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp handlers.PartitionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2024-03-05", resp.WindowDate)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "ACME", resp.Rows[0].Symbol)

	rec = do(t, router, http.MethodGet, "/api/partitions/2024-03-06", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rows":[]`)

	rec = do(t, router, http.MethodGet, "/api/partitions/05-03-2024", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/holdings/2024-03-05", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestJobs(t *testing.T) {
	router, _ := newTestRouter(t, &fakeSubmitter{})
	rec := do(t, router, http.MethodGet, "/api/jobs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "financial_etl")
}
