package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/internal/s0_data/collector"
	"github.com/wonny/finpipe/internal/s0_data/quality"
	"github.com/wonny/finpipe/internal/s1_analytics"
	"github.com/wonny/finpipe/internal/s2_load"
	"github.com/wonny/finpipe/pkg/logger"
)

// Config holds run policy
type Config struct {
	MaxRetries      int           // retries per run, shared by all stages
	BaseDelay       time.Duration // first backoff, doubled per retry
	MaxDelay        time.Duration
	ExtractLookback time.Duration // since = slot - lookback
	HistoryDays     int           // persisted closes read for moving windows
	RunTimeout      time.Duration // 0 = none
}

// Coordinator sequences extract → validate → transform → load for one
// scheduling interval and owns the LoadBatch audit record.
// ⭐ SSOT: 재시도/중단 판단은 Coordinator만 수행
type Coordinator struct {
	collector   *collector.Collector
	gate        *quality.Gate
	transformer *s1_analytics.Transformer
	loader      *s2_load.Loader
	warehouse   contracts.Warehouse
	batches     contracts.BatchRepository
	notifier    contracts.Notifier
	registry    Registry

	cfg    Config
	now    func() time.Time
	wait   func(ctx context.Context, d time.Duration) error
	logger *logger.Logger

	baseCtx context.Context
	wg      sync.WaitGroup
}

// Deps are the stage components a Coordinator drives
type Deps struct {
	Collector   *collector.Collector
	Gate        *quality.Gate
	Transformer *s1_analytics.Transformer
	Loader      *s2_load.Loader
	Warehouse   contracts.Warehouse
	Batches     contracts.BatchRepository
	Notifier    contracts.Notifier
	Registry    Registry // nil = in-process registry
}

// New creates a coordinator
func New(deps Deps, cfg Config, log *logger.Logger) *Coordinator {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Minute
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ExtractLookback <= 0 {
		cfg.ExtractLookback = 24 * time.Hour
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 2 * s1_analytics.LongWindow
	}

	registry := deps.Registry
	if registry == nil {
		registry = NewMemoryRegistry()
	}

	return &Coordinator{
		collector:   deps.Collector,
		gate:        deps.Gate,
		transformer: deps.Transformer,
		loader:      deps.Loader,
		warehouse:   deps.Warehouse,
		batches:     deps.Batches,
		notifier:    deps.Notifier,
		registry:    registry,
		cfg:         cfg,
		now:         time.Now,
		wait:        sleep,
		logger:      log.WithField("module", "coordinator"),
		baseCtx:     context.Background(),
	}
}

// WithBaseContext sets the context Submit runs inherit (server lifetime)
func (c *Coordinator) WithBaseContext(ctx context.Context) *Coordinator {
	c.baseCtx = ctx
	return c
}

// SourceSummary is the extract result of one source
type SourceSummary struct {
	Source   contracts.SourceID `json:"source"`
	Records  int                `json:"records"`
	Attempts int                `json:"attempts"`
	Error    string             `json:"error,omitempty"`
}

// RunOutcome describes one finished run
type RunOutcome struct {
	Batch          *contracts.LoadBatch `json:"batch"`
	Sources        []SourceSummary      `json:"sources"`
	Quality        *quality.Report      `json:"quality,omitempty"`
	Transform      *s1_analytics.Report `json:"transform,omitempty"`
	HoldingsReport *s1_analytics.Report `json:"holdings_report,omitempty"` // set when PORTFOLIO was fetched
	Holdings       int                  `json:"holdings"`
	Duration       time.Duration        `json:"duration"`
}

// run is the mutable state of one interval execution
type run struct {
	batch   *contracts.LoadBatch
	outcome *RunOutcome
	release func()
	sources map[contracts.SourceID]*SourceSummary
}

// Run executes the interval synchronously. The error is the cause of a
// FAILED run, or contracts.ErrRunInProgress when the interval is taken (in
// which case nothing was recorded and no notification is sent).
func (c *Coordinator) Run(ctx context.Context, scheduledFor time.Time) (*RunOutcome, error) {
	r, err := c.begin(ctx, scheduledFor)
	if err != nil {
		return nil, err
	}
	return c.complete(ctx, r)
}

// Submit claims the interval and runs it in the background.
// The returned batch is the PENDING audit record.
func (c *Coordinator) Submit(scheduledFor time.Time) (*contracts.LoadBatch, error) {
	r, err := c.begin(c.baseCtx, scheduledFor)
	if err != nil {
		return nil, err
	}
	pending := *r.batch

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_, _ = c.complete(c.baseCtx, r)
	}()
	return &pending, nil
}

// Wait blocks until every submitted run finished
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Running reports the intervals currently claimed
func (c *Coordinator) Running() map[string]string {
	return c.registry.Running()
}

// begin claims the interval and records the PENDING batch
func (c *Coordinator) begin(ctx context.Context, scheduledFor time.Time) (*run, error) {
	batch := &contracts.LoadBatch{
		BatchID:      uuid.NewString(),
		ScheduledFor: scheduledFor.UTC(),
		StartedAt:    c.now().UTC(),
		Status:       contracts.BatchPending,
	}

	release, err := c.registry.Acquire(ctx, batch.ScheduledFor, batch.BatchID)
	if err != nil {
		c.logger.WithError(err).WithField("scheduled_for", batch.ScheduledFor).Warn("Run rejected")
		return nil, err
	}

	c.save(ctx, batch)
	return &run{
		batch:   batch,
		outcome: &RunOutcome{Batch: batch},
		release: release,
		sources: make(map[contracts.SourceID]*SourceSummary),
	}, nil
}

// complete drives the stages and finishes the batch exactly once
func (c *Coordinator) complete(ctx context.Context, r *run) (*RunOutcome, error) {
	defer r.release()

	if c.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RunTimeout)
		defer cancel()
	}

	r.batch.Status = contracts.BatchRunning
	r.batch.AttemptCount = 1
	c.save(ctx, r.batch)

	log := c.logger.WithFields(map[string]interface{}{
		"batch_id":      r.batch.BatchID,
		"scheduled_for": r.batch.ScheduledFor.Format(time.RFC3339),
	})
	log.Info("Run started")

	err := c.execute(ctx, r, log)
	c.finish(ctx, r, err, log)
	return r.outcome, err
}

func (c *Coordinator) execute(ctx context.Context, r *run, log *logger.Logger) error {
	slot := r.batch.ScheduledFor
	since := slot.Add(-c.cfg.ExtractLookback)

	// S0: extract
	records, err := c.extract(ctx, r, since, log)
	if err != nil {
		return fmt.Errorf("%s: %w", contracts.StageExtract, err)
	}

	// S1: validate
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cancelled before %s: %w", contracts.StageValidate, err)
	}
	validated, qreport, err := c.gate.Validate(ctx, contracts.Records(records), slot)
	if err != nil {
		return fmt.Errorf("%s: %w", contracts.StageValidate, err)
	}
	r.outcome.Quality = qreport

	// S2: transform
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cancelled before %s: %w", contracts.StageTransform, err)
	}
	history, err := c.history(ctx, r, slot, log)
	if err != nil {
		return fmt.Errorf("%s: %w", contracts.StageTransform, err)
	}
	rows, treport := c.transformer.Transform(ctx, validated, history, r.batch.BatchID)
	r.outcome.Transform = treport

	var holdings []contracts.Holding
	_, portfolioFetched := r.sources[contracts.SourcePortfolio]
	if portfolioFetched {
		holdings, r.outcome.HoldingsReport = c.transformer.TransformHoldings(validated, slot, r.batch.BatchID)
	}

	// S3: load
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cancelled before %s: %w", contracts.StageLoad, err)
	}
	if err := c.load(ctx, r, rows, holdings, portfolioFetched, log); err != nil {
		return fmt.Errorf("%s: %w", contracts.StageLoad, err)
	}
	r.outcome.Holdings = len(holdings)

	return nil
}

// extract fetches every source, then retries only the sources that failed
// transiently. Records are merged in contracts.AllSources order.
func (c *Coordinator) extract(ctx context.Context, r *run, since time.Time, log *logger.Logger) ([]contracts.RawRecord, error) {
	fetched := make(map[contracts.SourceID][]contracts.RawRecord)
	results := c.collector.FetchAll(ctx, since)

	for {
		var (
			failed  []contracts.SourceID
			lastErr error
		)
		for _, res := range results {
			summary := r.summary(res.Source)
			summary.Attempts++
			if res.Error == nil {
				fetched[res.Source] = res.Records
				summary.Records = len(res.Records)
				summary.Error = ""
				continue
			}

			summary.Error = res.Error.Error()
			if contracts.IsPermanent(res.Error) || !contracts.IsTransient(res.Error) {
				return nil, res.Error
			}
			failed = append(failed, res.Source)
			lastErr = res.Error
		}

		if len(failed) == 0 {
			break
		}
		if err := c.retry(ctx, r, contracts.StageExtract, lastErr, log); err != nil {
			return nil, err
		}
		log.WithField("sources", failed).Info("Retrying failed sources")
		results = c.collector.FetchSources(ctx, since, failed)
	}

	var merged []contracts.RawRecord
	for _, src := range contracts.AllSources {
		merged = append(merged, fetched[src]...)
	}
	return merged, nil
}

// history reads persisted closes for the moving windows. A rejected read
// (missing table or column) fails the run at once; other read errors are
// retried like a lost connection.
func (c *Coordinator) history(ctx context.Context, r *run, slot time.Time, log *logger.Logger) ([]contracts.DailyClose, error) {
	to := contracts.TruncateDay(slot)
	from := to.AddDate(0, 0, -c.cfg.HistoryDays)

	for {
		history, err := c.warehouse.History(ctx, from, to)
		if err == nil {
			return history, nil
		}
		err = fmt.Errorf("read history: %w", err)
		if contracts.IsPermanent(err) || ctx.Err() != nil {
			return nil, err
		}
		if rerr := c.retry(ctx, r, contracts.StageTransform, err, log); rerr != nil {
			return nil, rerr
		}
	}
}

// load writes rows and the holdings snapshot, retrying only failed partitions
func (c *Coordinator) load(ctx context.Context, r *run, rows []contracts.AnalyticsRow, holdings []contracts.Holding, loadHoldings bool, log *logger.Logger) error {
	pending := rows

	for {
		outcome, err := c.loader.Load(ctx, pending, r.batch)
		if outcome != nil {
			r.batch.RowsWritten += outcome.RowsWritten
			r.batch.AddPartitions(outcome.PartitionsTouched...)
		}
		if err != nil && !errors.Is(err, contracts.ErrLoadPartial) {
			return err
		}

		var (
			partial *contracts.LoadPartialError
			next    []contracts.AnalyticsRow
		)
		if errors.As(err, &partial) {
			next = s2_load.FilterPartitions(pending, partial.FailedSet())
		}
		pending = next

		var holdErr error
		if loadHoldings {
			holdErr = c.loader.LoadHoldings(ctx, holdings, r.batch.ScheduledFor, r.batch)
			if holdErr == nil {
				loadHoldings = false
			} else if !errors.Is(holdErr, contracts.ErrLoadPartial) {
				return holdErr
			}
		}

		if len(pending) == 0 && !loadHoldings {
			return nil
		}

		cause := err
		if cause == nil {
			cause = holdErr
		}
		if rerr := c.retry(ctx, r, contracts.StageLoad, cause, log); rerr != nil {
			return rerr
		}
		log.WithFields(map[string]interface{}{
			"partitions": len(partitionKeys(pending)),
			"holdings":   loadHoldings,
		}).Info("Retrying failed partitions")
	}
}

func partitionKeys(rows []contracts.AnalyticsRow) []string {
	var keys []string
	for _, r := range rows {
		if k := contracts.DateKey(r.WindowDate); !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// retry spends one unit of the run-wide budget, waiting the backoff first.
// It returns the error that ends the run when the budget is exhausted or
// ctx ends while waiting.
func (c *Coordinator) retry(ctx context.Context, r *run, stage contracts.Stage, cause error, log *logger.Logger) error {
	retries := r.batch.AttemptCount - 1
	if retries >= c.cfg.MaxRetries {
		return fmt.Errorf("retries exhausted after %d attempts: %w", r.batch.AttemptCount, cause)
	}

	delay := c.backoff(retries + 1)
	log.WithError(cause).WithFields(map[string]interface{}{
		"stage":   stage.String(),
		"attempt": r.batch.AttemptCount + 1,
		"delay":   delay.String(),
	}).Warn("Transient failure, backing off")

	if err := c.wait(ctx, delay); err != nil {
		return fmt.Errorf("cancelled during backoff: %w", err)
	}

	r.batch.AttemptCount++
	c.save(ctx, r.batch)
	return nil
}

// backoff returns BaseDelay * 2^(n-1), capped at MaxDelay
func (c *Coordinator) backoff(n int) time.Duration {
	d := c.cfg.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	return min(d, c.cfg.MaxDelay)
}

// finish records the terminal state and sends the single notification
func (c *Coordinator) finish(ctx context.Context, r *run, runErr error, log *logger.Logger) {
	finishedAt := c.now().UTC()
	r.batch.FinishedAt = &finishedAt
	r.outcome.Duration = finishedAt.Sub(r.batch.StartedAt)

	if runErr != nil {
		r.batch.Status = contracts.BatchFailed
		r.batch.Error = runErr.Error()
	} else {
		r.batch.Status = contracts.BatchSucceeded
		r.batch.Error = ""
	}

	for _, src := range contracts.AllSources {
		if s, ok := r.sources[src]; ok {
			r.outcome.Sources = append(r.outcome.Sources, *s)
		}
	}

	// audit and notification must survive a cancelled run context
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	c.save(detached, r.batch)

	fields := map[string]interface{}{
		"status":       r.batch.Status,
		"attempts":     r.batch.AttemptCount,
		"rows_written": r.batch.RowsWritten,
		"partitions":   r.batch.PartitionKeys(),
		"duration_ms":  r.outcome.Duration.Milliseconds(),
	}
	if runErr != nil {
		log.WithError(runErr).WithFields(fields).Error("Run failed")
	} else {
		log.WithFields(fields).Info("Run succeeded")
	}

	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(detached, contracts.NotificationFor(r.batch)); err != nil {
		log.WithError(err).Warn("Failed to send run notification")
	}
}

func (c *Coordinator) save(ctx context.Context, b *contracts.LoadBatch) {
	if c.batches == nil {
		return
	}
	if err := c.batches.SaveBatch(ctx, b); err != nil {
		c.logger.WithError(err).WithField("batch_id", b.BatchID).Warn("Failed to save batch audit record")
	}
}

func (r *run) summary(src contracts.SourceID) *SourceSummary {
	s, ok := r.sources[src]
	if !ok {
		s = &SourceSummary{Source: src}
		r.sources[src] = s
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
