package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/internal/coordinator"
	"github.com/wonny/finpipe/internal/scheduler"
	"github.com/wonny/finpipe/pkg/logger"
)

// ETLJobName is the cron job that drives the daily pipeline
const ETLJobName = "financial_etl"

// DefaultETLSchedule 매일 06:00 UTC
const DefaultETLSchedule = "0 0 6 * * *"

// Runner executes one interval of the pipeline
type Runner interface {
	Run(ctx context.Context, scheduledFor time.Time) (*coordinator.RunOutcome, error)
}

// ETLJob runs the pipeline for the nominal slot of each trigger
// ⭐ SSOT: ETL 스케줄은 이 Job에서만
type ETLJob struct {
	runner   Runner
	schedule string
	timeout  time.Duration
	logger   *logger.Logger
}

// NewETLJob creates the ETL job. An empty schedule uses DefaultETLSchedule.
func NewETLJob(runner Runner, schedule string, timeout time.Duration, log *logger.Logger) (*ETLJob, error) {
	if schedule == "" {
		schedule = DefaultETLSchedule
	}
	if _, err := scheduler.ParseSchedule(schedule); err != nil {
		return nil, err
	}

	return &ETLJob{
		runner:   runner,
		schedule: schedule,
		timeout:  timeout,
		logger:   log.WithField("job", ETLJobName),
	}, nil
}

// Name returns the job name
func (j *ETLJob) Name() string {
	return ETLJobName
}

// Schedule returns the cron schedule
func (j *ETLJob) Schedule() string {
	return j.schedule
}

// Run executes the pipeline for the slot firedAt belongs to
func (j *ETLJob) Run(ctx context.Context, firedAt time.Time) error {
	slot, err := scheduler.NominalSlot(j.schedule, firedAt)
	if err != nil {
		return err
	}

	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	j.logger.WithField("scheduled_for", slot).Info("Starting scheduled ETL run")

	outcome, err := j.runner.Run(ctx, slot)
	if errors.Is(err, contracts.ErrRunInProgress) {
		// 같은 구간이 이미 실행 중 (수동 실행 등)
		j.logger.WithField("scheduled_for", slot).Warn("Interval already running, trigger skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("etl run %s: %w", slot.Format(time.RFC3339), err)
	}

	j.logger.WithFields(map[string]interface{}{
		"batch_id":     outcome.Batch.BatchID,
		"rows_written": outcome.Batch.RowsWritten,
		"attempts":     outcome.Batch.AttemptCount,
	}).Info("Scheduled ETL run completed")

	return nil
}
