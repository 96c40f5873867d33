package s2_load

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/logger"
)

// Config holds loader parameters
type Config struct {
	PartitionTimeout time.Duration // upper bound of one partition transaction
}

// Loader writes analytics rows partition by partition
// ⭐ SSOT: 웨어하우스 적재는 Loader를 통해서만
type Loader struct {
	warehouse contracts.Warehouse
	timeout   time.Duration
	logger    *logger.Logger
}

// NewLoader creates a new loader
func NewLoader(wh contracts.Warehouse, cfg Config, log *logger.Logger) *Loader {
	timeout := cfg.PartitionTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Loader{
		warehouse: wh,
		timeout:   timeout,
		logger:    log.WithField("module", "loader"),
	}
}

// Load upserts rows one window_date at a time, ascending.
//
// Rows are checked against the warehouse schema before anything is written;
// a bad row rejects the whole call. Rows keep the load_batch_id of the run
// that computed them, so reloading them under another batch is a plain
// upsert. A transient partition failure is recorded and the remaining partitions
// still run; the call then returns *contracts.LoadPartialError. A rejected
// partition aborts immediately. Cancellation is honored between partitions
// only, so a started transaction always finishes.
func (l *Loader) Load(ctx context.Context, rows []contracts.AnalyticsRow, batch *contracts.LoadBatch) (*contracts.LoadOutcome, error) {
	outcome := &contracts.LoadOutcome{}
	if len(rows) == 0 {
		return outcome, nil
	}

	if err := checkRows(rows); err != nil {
		return outcome, err
	}

	partitions := groupByDate(rows)
	var lastErr error

	for _, p := range partitions {
		if err := ctx.Err(); err != nil {
			l.logger.WithFields(map[string]interface{}{
				"batch_id":  batch.BatchID,
				"committed": len(outcome.PartitionsTouched),
				"remaining": contracts.DateKey(p.date),
			}).Warn("Load cancelled between partitions")
			return outcome, fmt.Errorf("load cancelled before %s: %w", contracts.DateKey(p.date), err)
		}

		n, err := l.writePartition(ctx, p)
		if err != nil {
			if errors.Is(err, contracts.ErrLoadRejected) {
				return outcome, err
			}
			l.logger.WithError(err).WithField("window_date", contracts.DateKey(p.date)).Warn("Partition write failed")
			outcome.Failed = append(outcome.Failed, p.date)
			lastErr = err
			continue
		}

		outcome.RowsWritten += n
		outcome.PartitionsTouched = append(outcome.PartitionsTouched, p.date)
	}

	l.logger.WithFields(map[string]interface{}{
		"batch_id":   batch.BatchID,
		"rows":       outcome.RowsWritten,
		"partitions": len(outcome.PartitionsTouched),
		"failed":     len(outcome.Failed),
	}).Info("Load completed")

	if len(outcome.Failed) > 0 {
		return outcome, &contracts.LoadPartialError{
			Committed: outcome.PartitionsTouched,
			Failed:    outcome.Failed,
			Err:       lastErr,
		}
	}
	return outcome, nil
}

// LoadHoldings replaces the holdings snapshot of asOf. A transient failure is
// reported as a partial load whose failed partition is asOf.
func (l *Loader) LoadHoldings(ctx context.Context, holdings []contracts.Holding, asOf time.Time, batch *contracts.LoadBatch) error {
	asOf = contracts.TruncateDay(asOf)
	for _, h := range holdings {
		if h.Symbol == "" {
			return contracts.Rejected(fmt.Errorf("holding without symbol"))
		}
		if h.LoadBatchID == "" {
			return contracts.Rejected(fmt.Errorf("holding %s without load_batch_id", h.Symbol))
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("load holdings cancelled: %w", err)
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	if err := l.warehouse.ReplaceHoldings(wctx, asOf, holdings); err != nil {
		if errors.Is(err, contracts.ErrLoadRejected) {
			return err
		}
		return &contracts.LoadPartialError{Failed: []time.Time{asOf}, Err: err}
	}

	l.logger.WithFields(map[string]interface{}{
		"batch_id": batch.BatchID,
		"as_of":    contracts.DateKey(asOf),
		"holdings": len(holdings),
	}).Info("Holdings snapshot replaced")
	return nil
}

type partition struct {
	date time.Time
	rows []contracts.AnalyticsRow
}

// writePartition runs one transaction detached from ctx cancellation
func (l *Loader) writePartition(ctx context.Context, p partition) (int, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	start := time.Now()
	n, err := l.warehouse.UpsertPartition(wctx, p.date, p.rows)
	if err != nil {
		return 0, fmt.Errorf("partition %s: %w", contracts.DateKey(p.date), err)
	}

	l.logger.WithFields(map[string]interface{}{
		"window_date": contracts.DateKey(p.date),
		"rows":        n,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Partition upserted")
	return n, nil
}

// checkRows validates every row against the warehouse schema
func checkRows(rows []contracts.AnalyticsRow) error {
	seen := make(map[contracts.RowKey]bool, len(rows))
	for i, r := range rows {
		if err := r.Validate(); err != nil {
			return contracts.Rejected(fmt.Errorf("row %d (%s %s): %w", i, r.Symbol, r.Category, err))
		}
		key := r.Key()
		if seen[key] {
			return contracts.Rejected(fmt.Errorf("duplicate row %s %s %s", key.Symbol, key.WindowDate, key.Category))
		}
		seen[key] = true
	}
	return nil
}

// groupByDate splits rows by window_date in ascending order
func groupByDate(rows []contracts.AnalyticsRow) []partition {
	byDate := make(map[time.Time][]contracts.AnalyticsRow)
	for _, r := range rows {
		d := contracts.TruncateDay(r.WindowDate)
		byDate[d] = append(byDate[d], r)
	}

	partitions := make([]partition, 0, len(byDate))
	for d, rs := range byDate {
		partitions = append(partitions, partition{date: d, rows: rs})
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i].date.Before(partitions[j].date) })
	return partitions
}

// FilterPartitions keeps the rows whose window_date is in keys (YYYY-MM-DD)
func FilterPartitions(rows []contracts.AnalyticsRow, keys map[string]bool) []contracts.AnalyticsRow {
	out := make([]contracts.AnalyticsRow, 0, len(rows))
	for _, r := range rows {
		if keys[contracts.DateKey(r.WindowDate)] {
			out = append(out, r)
		}
	}
	return out
}
