package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/finpipe/pkg/logger"
)

type fakeJob struct {
	name string
	err  error

	mu    sync.Mutex
	fired []time.Time
	done  chan struct{}
}

func newFakeJob(name string, err error) *fakeJob {
	return &fakeJob{name: name, err: err, done: make(chan struct{}, 8)}
}

func (j *fakeJob) Name() string     { return j.name }
func (j *fakeJob) Schedule() string { return "0 0 6 * * *" }

func (j *fakeJob) Run(ctx context.Context, firedAt time.Time) error {
	j.mu.Lock()
	j.fired = append(j.fired, firedAt)
	j.mu.Unlock()
	j.done <- struct{}{}
	return j.err
}

func TestNominalSlot(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		at       time.Time
		want     time.Time
	}{
		{
			name:     "fired on time",
			schedule: "0 0 6 * * *",
			at:       time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC),
			want:     time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC),
		},
		{
			name:     "fired late",
			schedule: "0 0 6 * * *",
			at:       time.Date(2024, 3, 5, 6, 0, 3, 250, time.UTC),
			want:     time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC),
		},
		{
			name:     "before today's activation",
			schedule: "0 0 6 * * *",
			at:       time.Date(2024, 3, 5, 5, 59, 59, 0, time.UTC),
			want:     time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC),
		},
		{
			name:     "non-UTC input",
			schedule: "0 0 6 * * *",
			at:       time.Date(2024, 3, 5, 15, 30, 0, 0, time.FixedZone("KST", 9*3600)),
			want:     time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC),
		},
		{
			name:     "weekly",
			schedule: "0 0 6 * * MON",
			at:       time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC),
			want:     time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC),
		},
		{
			name:     "descriptor",
			schedule: "@hourly",
			at:       time.Date(2024, 3, 5, 6, 42, 0, 0, time.UTC),
			want:     time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NominalSlot(tt.schedule, tt.at)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestNominalSlot_InvalidSchedule(t *testing.T) {
	_, err := NominalSlot("not a schedule", time.Now())
	assert.Error(t, err)
}

func TestJobHistory(t *testing.T) {
	h := &JobHistory{}
	assert.Empty(t, h.GetLatestResults(5))
	assert.Zero(t, h.GetSuccessRate())

	for i := 0; i < historyLimit+10; i++ {
		h.AddResult(JobResult{JobName: "x", Success: i%2 == 0})
	}

	assert.Len(t, h.Results, historyLimit)
	assert.Len(t, h.GetLatestResults(3), 3)
	assert.Len(t, h.GetFailedResults(), historyLimit/2)
	assert.InDelta(t, 0.5, h.GetSuccessRate(), 1e-9)
}

func TestScheduler_AddJob(t *testing.T) {
	s := New(logger.Nop())

	require.NoError(t, s.AddJob(newFakeJob("a", nil)))
	assert.Error(t, s.AddJob(newFakeJob("a", nil)), "duplicate name")
	assert.ElementsMatch(t, []string{"a"}, s.GetAllJobs())

	next, err := s.NextRun("a")
	require.NoError(t, err)
	assert.True(t, next.IsZero(), "no activation before Start")

	require.NoError(t, s.RemoveJob("a"))
	assert.Error(t, s.RemoveJob("a"))
	assert.Empty(t, s.GetAllJobs())
}

func TestScheduler_RunJobRecordsHistory(t *testing.T) {
	s := New(logger.Nop())
	fired := time.Date(2024, 3, 5, 6, 0, 1, 0, time.UTC)
	s.now = func() time.Time { return fired }

	ok := newFakeJob("ok", nil)
	bad := newFakeJob("bad", errors.New("boom"))
	require.NoError(t, s.AddJob(ok))
	require.NoError(t, s.AddJob(bad))

	require.NoError(t, s.RunJob("ok"))
	require.NoError(t, s.RunJob("bad"))
	assert.Error(t, s.RunJob("missing"))
	s.Stop()

	// jobs run exactly once per trigger
	assert.Equal(t, []time.Time{fired}, ok.fired)
	assert.Equal(t, []time.Time{fired}, bad.fired)

	stats := s.GetJobStats()
	assert.Equal(t, 1, stats["ok"].SuccessCount)
	assert.Equal(t, 1, stats["bad"].FailureCount)
	require.NotNil(t, stats["bad"].LastFailure)
	assert.Nil(t, stats["bad"].LastSuccess)

	history, err := s.GetJobHistory("bad")
	require.NoError(t, err)
	require.Len(t, history.Results, 1)
	assert.Equal(t, "boom", history.Results[0].Error)

	_, err = s.GetJobHistory("missing")
	assert.Error(t, err)
}

func TestResolveSlot(t *testing.T) {
	now := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		schedule string
		raw      string
		want     time.Time
		wantErr  bool
	}{
		{name: "empty is current slot", schedule: "0 0 6 * * *", want: time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC)},
		{name: "rfc3339", schedule: "0 0 6 * * *", raw: "2024-03-01T06:00:00+09:00", want: time.Date(2024, 2, 29, 21, 0, 0, 0, time.UTC)},
		{name: "date", schedule: "0 0 6 * * *", raw: "2024-03-01", want: time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)},
		{name: "date without activation", schedule: "0 0 6 * * MON", raw: "2024-03-05", wantErr: true},
		{name: "garbage", schedule: "0 0 6 * * *", raw: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveSlot(tt.schedule, tt.raw, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}
