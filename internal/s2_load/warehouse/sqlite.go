package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/logger"
)

// timeLayout keeps TEXT timestamps fixed-width so they sort chronologically.
// Parsing stays on time.RFC3339Nano, which reads both widths.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite is the embedded single-file warehouse
type SQLite struct {
	db     *sql.DB
	logger *logger.Logger
}

// OpenSQLite opens (or creates) the database file at path
func OpenSQLite(path string, log *logger.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer; partition transactions must not interleave
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	s := &SQLite{db: db, logger: log.WithField("module", "warehouse.sqlite")}

	// PRAGMA optimizations
	for _, pragma := range []string{"PRAGMA journal_mode = WAL;", "PRAGMA synchronous = NORMAL;", "PRAGMA busy_timeout = 5000;"} {
		if _, err := db.Exec(pragma); err != nil {
			s.logger.WithError(err).Warnf("Failed to apply %s", pragma)
		}
	}

	return s, nil
}

// EnsureSchema creates the warehouse tables when absent
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	for _, stmt := range sqliteUpgrades {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			return fmt.Errorf("upgrade schema: %w", err)
		}
	}
	return nil
}

// UpsertPartition writes rows of one window_date inside a single transaction
func (s *SQLite) UpsertPartition(ctx context.Context, windowDate time.Time, rows []contracts.AnalyticsRow) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin partition %s: %w", contracts.DateKey(windowDate), err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO analytics_rows (`+analyticsColumns+`, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, window_date, category) DO UPDATE SET`+upsertAssignments)
	if err != nil {
		return 0, classifySQLite(fmt.Errorf("prepare upsert: %w", err))
	}
	defer stmt.Close()

	loadedAt := time.Now().UTC().Format(timeLayout)
	for _, r := range rows {
		keywords, err := encodeKeywords(r.Keywords)
		if err != nil {
			return 0, contracts.Rejected(err)
		}
		_, err = stmt.ExecContext(ctx,
			r.Symbol, contracts.DateKey(r.WindowDate), string(r.Category),
			r.Close, r.Volume, r.DailyReturn, r.MA7, r.MA30,
			r.Volatility, r.Volatility30, r.PriceRange, r.PriceChange, r.PriceChangePct, r.PriceTier,
			r.SentimentLabel, r.SentimentScore, r.ArticleCount, keywords, r.LoadBatchID,
			loadedAt,
		)
		if err != nil {
			return 0, classifySQLite(fmt.Errorf("upsert %s %s: %w", r.Symbol, r.Category, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, classifySQLite(fmt.Errorf("commit partition %s: %w", contracts.DateKey(windowDate), err))
	}
	return len(rows), nil
}

// ReplaceHoldings swaps the holdings snapshot of asOf
func (s *SQLite) ReplaceHoldings(ctx context.Context, asOf time.Time, holdings []contracts.Holding) error {
	key := contracts.DateKey(asOf)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin holdings: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM portfolio_holdings WHERE as_of = ?`, key); err != nil {
		return classifySQLite(fmt.Errorf("clear holdings: %w", err))
	}

	for _, h := range holdings {
		var purchased null.String
		if !h.PurchaseDate.IsZero() {
			purchased = null.StringFrom(contracts.DateKey(h.PurchaseDate))
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO portfolio_holdings (
				as_of, symbol, asset_type, quantity, purchase_price,
				purchase_date, cost_basis, holding_days, load_batch_id
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			key, h.Symbol, h.AssetType, h.Quantity.String(), h.PurchasePrice.String(),
			purchased, h.CostBasis.String(), h.HoldingDays, h.LoadBatchID,
		)
		if err != nil {
			return classifySQLite(fmt.Errorf("insert holding %s: %w", h.Symbol, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classifySQLite(fmt.Errorf("commit holdings: %w", err))
	}
	return nil
}

// History returns persisted EQUITY and CRYPTO closes in [from, to]
func (s *SQLite) History(ctx context.Context, from, to time.Time) ([]contracts.DailyClose, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, symbol, window_date, close
		FROM analytics_rows
		WHERE category IN ('EQUITY', 'CRYPTO')
		  AND close IS NOT NULL
		  AND window_date BETWEEN ? AND ?
		ORDER BY category, symbol, window_date`,
		contracts.DateKey(from), contracts.DateKey(to),
	)
	if err != nil {
		return nil, classifySQLite(fmt.Errorf("query history: %w", err))
	}
	defer rows.Close()

	var history []contracts.DailyClose
	for rows.Next() {
		var (
			dc             contracts.DailyClose
			category, date string
		)
		if err := rows.Scan(&category, &dc.Symbol, &date, &dc.Close); err != nil {
			return nil, classifySQLite(fmt.Errorf("scan history: %w", err))
		}
		if dc.Date, err = time.Parse(time.DateOnly, date); err != nil {
			return nil, contracts.Rejected(fmt.Errorf("parse window_date: %w", err))
		}
		dc.Category = contracts.Category(category)
		history = append(history, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite(fmt.Errorf("read history: %w", err))
	}
	return history, nil
}

// Partition returns the rows of one window_date
func (s *SQLite) Partition(ctx context.Context, windowDate time.Time) ([]contracts.AnalyticsRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+analyticsColumns+`
		FROM analytics_rows
		WHERE window_date = ?
		ORDER BY category, symbol`,
		contracts.DateKey(windowDate),
	)
	if err != nil {
		return nil, fmt.Errorf("query partition: %w", err)
	}
	defer rows.Close()

	var out []contracts.AnalyticsRow
	for rows.Next() {
		var (
			r              contracts.AnalyticsRow
			category, date string
			keywords       null.String
		)
		err := rows.Scan(
			&r.Symbol, &date, &category,
			&r.Close, &r.Volume, &r.DailyReturn, &r.MA7, &r.MA30,
			&r.Volatility, &r.Volatility30, &r.PriceRange, &r.PriceChange, &r.PriceChangePct, &r.PriceTier,
			&r.SentimentLabel, &r.SentimentScore, &r.ArticleCount, &keywords, &r.LoadBatchID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if keywords.Valid {
			if err := json.Unmarshal([]byte(keywords.String), &r.Keywords); err != nil {
				return nil, fmt.Errorf("parse keywords: %w", err)
			}
		}
		if r.WindowDate, err = time.Parse(time.DateOnly, date); err != nil {
			return nil, fmt.Errorf("parse window_date: %w", err)
		}
		r.Category = contracts.Category(category)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Holdings returns the snapshot of asOf
func (s *SQLite) Holdings(ctx context.Context, asOf time.Time) ([]contracts.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, asset_type, quantity, purchase_price, purchase_date,
		       cost_basis, holding_days, as_of, load_batch_id
		FROM portfolio_holdings
		WHERE as_of = ?
		ORDER BY symbol`,
		contracts.DateKey(asOf),
	)
	if err != nil {
		return nil, fmt.Errorf("query holdings: %w", err)
	}
	defer rows.Close()

	var out []contracts.Holding
	for rows.Next() {
		var (
			h                            contracts.Holding
			quantity, price, cost, asOfS string
			purchased                    null.String
		)
		err := rows.Scan(&h.Symbol, &h.AssetType, &quantity, &price, &purchased, &cost, &h.HoldingDays, &asOfS, &h.LoadBatchID)
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
			if h.PurchaseDate, err = time.Parse(time.DateOnly, purchased.String); err != nil {
				return nil, fmt.Errorf("parse purchase_date: %w", err)
			}
		}
		if h.AsOf, err = time.Parse(time.DateOnly, asOfS); err != nil {
			return nil, fmt.Errorf("parse as_of: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SaveBatch upserts the audit record of a run
func (s *SQLite) SaveBatch(ctx context.Context, b *contracts.LoadBatch) error {
	partitions, err := json.Marshal(b.PartitionKeys())
	if err != nil {
		return fmt.Errorf("marshal partitions: %w", err)
	}

	var finished null.String
	if b.FinishedAt != nil {
		finished = null.StringFrom(b.FinishedAt.UTC().Format(timeLayout))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO load_batches (
			batch_id, scheduled_for, started_at, finished_at, attempt_count,
			status, partitions_touched, rows_written, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (batch_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			attempt_count = excluded.attempt_count,
			status = excluded.status,
			partitions_touched = excluded.partitions_touched,
			rows_written = excluded.rows_written,
			error = excluded.error`,
		b.BatchID,
		b.ScheduledFor.UTC().Format(timeLayout),
		b.StartedAt.UTC().Format(timeLayout),
		finished, b.AttemptCount, string(b.Status), string(partitions), b.RowsWritten, b.Error,
	)
	if err != nil {
		return fmt.Errorf("save batch %s: %w", b.BatchID, err)
	}
	return nil
}

// GetBatch returns contracts.ErrBatchNotFound for an unknown id
func (s *SQLite) GetBatch(ctx context.Context, batchID string) (*contracts.LoadBatch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM load_batches WHERE batch_id = ?`, batchID)
	b, err := scanSQLiteBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", batchID, err)
	}
	return b, nil
}

// ListBatches returns the most recent batches first
func (s *SQLite) ListBatches(ctx context.Context, limit int) ([]*contracts.LoadBatch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+batchColumns+` FROM load_batches ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []*contracts.LoadBatch
	for rows.Next() {
		b, err := scanSQLiteBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteBatch(row rowScanner) (*contracts.LoadBatch, error) {
	var (
		b          contracts.LoadBatch
		scheduled  string
		started    string
		status     string
		partitions string
		finished   null.String
	)
	err := row.Scan(&b.BatchID, &scheduled, &started, &finished, &b.AttemptCount,
		&status, &partitions, &b.RowsWritten, &b.Error)
	if err != nil {
		return nil, err
	}

	if b.ScheduledFor, err = time.Parse(time.RFC3339Nano, scheduled); err != nil {
		return nil, fmt.Errorf("parse scheduled_for: %w", err)
	}
	if b.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if finished.Valid {
		t, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		b.FinishedAt = &t
	}
	b.Status = contracts.BatchStatus(status)

	var keys []string
	if err := json.Unmarshal([]byte(partitions), &keys); err != nil {
		return nil, fmt.Errorf("parse partitions: %w", err)
	}
	if err := addPartitionKeys(&b, keys); err != nil {
		return nil, err
	}
	return &b, nil
}

// encodeKeywords stores keywords as a JSON array, NULL when empty
func encodeKeywords(keywords []string) (null.String, error) {
	if len(keywords) == 0 {
		return null.String{}, nil
	}
	b, err := json.Marshal(keywords)
	if err != nil {
		return null.String{}, fmt.Errorf("marshal keywords: %w", err)
	}
	return null.StringFrom(string(b)), nil
}

// Close closes the database file
func (s *SQLite) Close() error {
	return s.db.Close()
}

// classifySQLite marks schema and constraint mismatches as rejected
func classifySQLite(err error) error {
	msg := err.Error()
	for _, marker := range []string{"no such table", "no such column", "has no column named", "datatype mismatch", "constraint failed"} {
		if strings.Contains(msg, marker) {
			return contracts.Rejected(err)
		}
	}
	return err
}
