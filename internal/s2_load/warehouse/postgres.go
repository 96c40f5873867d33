package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/database"
	"github.com/wonny/finpipe/pkg/logger"
)

// Postgres is the warehouse on PostgreSQL
// ⭐ SSOT: analytics_rows 쓰기는 파티션 단위 트랜잭션으로만
type Postgres struct {
	db     *database.DB
	logger *logger.Logger
}

// NewPostgres wraps an open pool
func NewPostgres(db *database.DB, log *logger.Logger) *Postgres {
	return &Postgres{
		db:     db,
		logger: log.WithField("module", "warehouse.postgres"),
	}
}

// EnsureSchema creates the warehouse tables when absent
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertPartition writes rows of one window_date inside a single transaction
func (p *Postgres) UpsertPartition(ctx context.Context, windowDate time.Time, rows []contracts.AnalyticsRow) (int, error) {
	query := `
		INSERT INTO analytics_rows (` + analyticsColumns + `, loaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, NOW())
		ON CONFLICT (symbol, window_date, category) DO UPDATE SET` + upsertAssignments

	tx, err := p.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin partition %s: %w", contracts.DateKey(windowDate), err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(query,
			r.Symbol, contracts.TruncateDay(r.WindowDate), string(r.Category),
			r.Close, r.Volume, r.DailyReturn, r.MA7, r.MA30,
			r.Volatility, r.Volatility30, r.PriceRange, r.PriceChange, r.PriceChangePct, r.PriceTier,
			r.SentimentLabel, r.SentimentScore, r.ArticleCount, r.Keywords, r.LoadBatchID,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range rows {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return 0, classify(fmt.Errorf("upsert %s %s: %w", rows[i].Symbol, rows[i].Category, err))
		}
	}
	if err := results.Close(); err != nil {
		return 0, classify(fmt.Errorf("close batch: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, classify(fmt.Errorf("commit partition %s: %w", contracts.DateKey(windowDate), err))
	}

	p.logger.WithFields(map[string]interface{}{
		"window_date": contracts.DateKey(windowDate),
		"rows":        len(rows),
	}).Debug("Partition committed")

	return len(rows), nil
}

// ReplaceHoldings swaps the holdings snapshot of asOf
func (p *Postgres) ReplaceHoldings(ctx context.Context, asOf time.Time, holdings []contracts.Holding) error {
	asOf = contracts.TruncateDay(asOf)

	tx, err := p.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin holdings: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM portfolio_holdings WHERE as_of = $1`, asOf); err != nil {
		return classify(fmt.Errorf("clear holdings: %w", err))
	}

	query := `
		INSERT INTO portfolio_holdings (
			as_of, symbol, asset_type, quantity, purchase_price,
			purchase_date, cost_basis, holding_days, load_batch_id
		) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7::numeric, $8, $9)
	`
	for _, h := range holdings {
		_, err := tx.Exec(ctx, query,
			asOf, h.Symbol, h.AssetType,
			h.Quantity.String(), h.PurchasePrice.String(),
			null.NewTime(h.PurchaseDate, !h.PurchaseDate.IsZero()),
			h.CostBasis.String(), h.HoldingDays, h.LoadBatchID,
		)
		if err != nil {
			return classify(fmt.Errorf("insert holding %s: %w", h.Symbol, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit holdings: %w", err))
	}
	return nil
}

// History returns persisted EQUITY and CRYPTO closes in [from, to]
func (p *Postgres) History(ctx context.Context, from, to time.Time) ([]contracts.DailyClose, error) {
	query := `
		SELECT category, symbol, window_date, close
		FROM analytics_rows
		WHERE category IN ('EQUITY', 'CRYPTO')
		  AND close IS NOT NULL
		  AND window_date BETWEEN $1 AND $2
		ORDER BY category, symbol, window_date
	`

	rows, err := p.db.Pool.Query(ctx, query, contracts.TruncateDay(from), contracts.TruncateDay(to))
	if err != nil {
		return nil, classify(fmt.Errorf("query history: %w", err))
	}
	defer rows.Close()

	var history []contracts.DailyClose
	for rows.Next() {
		var (
			dc       contracts.DailyClose
			category string
		)
		if err := rows.Scan(&category, &dc.Symbol, &dc.Date, &dc.Close); err != nil {
			return nil, classify(fmt.Errorf("scan history: %w", err))
		}
		dc.Category = contracts.Category(category)
		dc.Date = contracts.TruncateDay(dc.Date)
		history = append(history, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("read history: %w", err))
	}
	return history, nil
}

// Partition returns the rows of one window_date
func (p *Postgres) Partition(ctx context.Context, windowDate time.Time) ([]contracts.AnalyticsRow, error) {
	query := `SELECT ` + analyticsColumns + `
		FROM analytics_rows
		WHERE window_date = $1
		ORDER BY category, symbol
	`

	rows, err := p.db.Pool.Query(ctx, query, contracts.TruncateDay(windowDate))
	if err != nil {
		return nil, fmt.Errorf("query partition: %w", err)
	}
	defer rows.Close()

	var out []contracts.AnalyticsRow
	for rows.Next() {
		var (
			r        contracts.AnalyticsRow
			category string
		)
		err := rows.Scan(
			&r.Symbol, &r.WindowDate, &category,
			&r.Close, &r.Volume, &r.DailyReturn, &r.MA7, &r.MA30,
			&r.Volatility, &r.Volatility30, &r.PriceRange, &r.PriceChange, &r.PriceChangePct, &r.PriceTier,
			&r.SentimentLabel, &r.SentimentScore, &r.ArticleCount, &r.Keywords, &r.LoadBatchID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Category = contracts.Category(category)
		r.WindowDate = contracts.TruncateDay(r.WindowDate)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Holdings returns the snapshot of asOf
func (p *Postgres) Holdings(ctx context.Context, asOf time.Time) ([]contracts.Holding, error) {
	query := `
		SELECT symbol, asset_type, quantity::text, purchase_price::text,
		       purchase_date, cost_basis::text, holding_days, as_of, load_batch_id
		FROM portfolio_holdings
		WHERE as_of = $1
		ORDER BY symbol
	`

	rows, err := p.db.Pool.Query(ctx, query, contracts.TruncateDay(asOf))
	if err != nil {
		return nil, fmt.Errorf("query holdings: %w", err)
	}
	defer rows.Close()

	var out []contracts.Holding
	for rows.Next() {
		var (
			h                     contracts.Holding
			quantity, price, cost string
			purchased             null.Time
		)
		err := rows.Scan(&h.Symbol, &h.AssetType, &quantity, &price, &purchased, &cost, &h.HoldingDays, &h.AsOf, &h.LoadBatchID)
		if err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		if h.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		if h.PurchasePrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse purchase_price: %w", err)
		}
		if h.CostBasis, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("parse cost_basis: %w", err)
		}
		if purchased.Valid {
			h.PurchaseDate = contracts.TruncateDay(purchased.Time)
		}
		h.AsOf = contracts.TruncateDay(h.AsOf)
		out = append(out, h)
	}
	return out, rows.Err()
}

// SaveBatch upserts the audit record of a run
func (p *Postgres) SaveBatch(ctx context.Context, b *contracts.LoadBatch) error {
	query := `
		INSERT INTO load_batches (
			batch_id, scheduled_for, started_at, finished_at, attempt_count,
			status, partitions_touched, rows_written, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (batch_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			attempt_count = EXCLUDED.attempt_count,
			status = EXCLUDED.status,
			partitions_touched = EXCLUDED.partitions_touched,
			rows_written = EXCLUDED.rows_written,
			error = EXCLUDED.error
	`

	_, err := p.db.Pool.Exec(ctx, query,
		b.BatchID, b.ScheduledFor, b.StartedAt, b.FinishedAt, b.AttemptCount,
		string(b.Status), b.PartitionKeys(), b.RowsWritten, b.Error,
	)
	if err != nil {
		return fmt.Errorf("save batch %s: %w", b.BatchID, err)
	}
	return nil
}

const batchColumns = `batch_id, scheduled_for, started_at, finished_at, attempt_count,
	status, partitions_touched, rows_written, error`

// GetBatch returns contracts.ErrBatchNotFound for an unknown id
func (p *Postgres) GetBatch(ctx context.Context, batchID string) (*contracts.LoadBatch, error) {
	row := p.db.Pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM load_batches WHERE batch_id = $1`, batchID)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", batchID, err)
	}
	return b, nil
}

// ListBatches returns the most recent batches first
func (p *Postgres) ListBatches(ctx context.Context, limit int) ([]*contracts.LoadBatch, error) {
	rows, err := p.db.Pool.Query(ctx, `SELECT `+batchColumns+` FROM load_batches ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []*contracts.LoadBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBatch(row pgx.Row) (*contracts.LoadBatch, error) {
	var (
		b          contracts.LoadBatch
		status     string
		partitions []string
	)
	err := row.Scan(&b.BatchID, &b.ScheduledFor, &b.StartedAt, &b.FinishedAt, &b.AttemptCount,
		&status, &partitions, &b.RowsWritten, &b.Error)
	if err != nil {
		return nil, err
	}
	b.Status = contracts.BatchStatus(status)
	b.ScheduledFor = b.ScheduledFor.UTC()
	b.StartedAt = b.StartedAt.UTC()
	if err := addPartitionKeys(&b, partitions); err != nil {
		return nil, err
	}
	return &b, nil
}

// Close releases the pool
func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}

func addPartitionKeys(b *contracts.LoadBatch, keys []string) error {
	for _, k := range keys {
		d, err := time.Parse(time.DateOnly, k)
		if err != nil {
			return fmt.Errorf("parse partition %q: %w", k, err)
		}
		b.AddPartitions(d)
	}
	return nil
}

// classify marks schema and data mismatches as rejected; everything else
// (connection loss, serialization failure, timeouts) stays transient.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "42"), // undefined table/column, syntax
			strings.HasPrefix(pgErr.Code, "22"), // data exception
			strings.HasPrefix(pgErr.Code, "23"): // integrity violation
			return contracts.Rejected(err)
		}
	}
	return err
}
