package portfolio

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/logger"
)

// Querier is the subset of pgxpool.Pool the source needs
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Source is the PORTFOLIO adapter over the user_portfolio table
// ⭐ SSOT: 보유 종목 조회는 여기서만
type Source struct {
	db     Querier
	userID string
	logger *logger.Logger
	now    func() time.Time
}

// NewSource creates a portfolio source. An empty userID reads every user's lots.
func NewSource(db Querier, userID string, log *logger.Logger) *Source {
	return &Source{
		db:     db,
		userID: userID,
		logger: log.WithField("module", "portfolio_source"),
		now:    time.Now,
	}
}

// Source implements contracts.SourceAdapter
func (s *Source) Source() contracts.SourceID {
	return contracts.SourcePortfolio
}

// Fetch yields one record per purchase lot.
// Holdings are a snapshot, so since does not filter them.
func (s *Source) Fetch(ctx context.Context, since time.Time) iter.Seq2[contracts.RawRecord, error] {
	return func(yield func(contracts.RawRecord, error) bool) {
		query := `
			SELECT symbol, quantity::text, purchase_price::text, purchase_date, asset_type, created_at
			FROM user_portfolio
		`
		var args []any
		if s.userID != "" {
			query += ` WHERE user_id = $1`
			args = append(args, s.userID)
		}
		query += ` ORDER BY symbol, purchase_date, created_at`

		rows, err := s.db.Query(ctx, query, args...)
		if err != nil {
			yield(contracts.RawRecord{}, classify(err))
			return
		}
		defer rows.Close()

		fetchAt := s.now().UTC()
		count := 0
		for rows.Next() {
			var (
				symbol        string
				quantity      null.String
				purchasePrice null.String
				purchaseDate  null.Time
				assetType     null.String
				createdAt     time.Time
			)
			if err := rows.Scan(&symbol, &quantity, &purchasePrice, &purchaseDate, &assetType, &createdAt); err != nil {
				yield(contracts.RawRecord{}, contracts.SchemaChanged(contracts.SourcePortfolio, fmt.Errorf("scan holding: %w", err)))
				return
			}

			payload := map[string]string{}
			if quantity.Valid {
				payload[contracts.FieldQuantity] = quantity.String
			}
			if purchasePrice.Valid {
				payload[contracts.FieldPurchasePrice] = purchasePrice.String
			}
			if purchaseDate.Valid {
				payload[contracts.FieldPurchaseDate] = contracts.DateKey(purchaseDate.Time)
			}
			if assetType.Valid {
				payload[contracts.FieldAssetType] = strings.ToLower(assetType.String)
			}

			count++
			rec := contracts.RawRecord{
				Source:     contracts.SourcePortfolio,
				Symbol:     strings.TrimSpace(symbol),
				ObservedAt: createdAt.UTC(),
				Payload:    payload,
				FetchAt:    fetchAt,
			}
			if !yield(rec, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(contracts.RawRecord{}, classify(err))
			return
		}

		s.logger.WithField("lots", count).Debug("Read portfolio lots")
	}
}

// classify maps store errors: SQLSTATE class 42 (missing table/column) is
// permanent, everything else is treated as an outage.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "42") {
		return contracts.SchemaChanged(contracts.SourcePortfolio, err)
	}
	return contracts.Unavailable(contracts.SourcePortfolio, err)
}
