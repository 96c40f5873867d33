package warehouse

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/config"
	"github.com/wonny/finpipe/pkg/database"
	"github.com/wonny/finpipe/pkg/logger"
)

// fixtures use 1990 so a shared postgres database is not disturbed
func wday(d int) time.Time {
	return time.Date(1990, 1, d, 0, 0, 0, 0, time.UTC)
}

func equityRow(symbol string, d int, closeValue float64, batch string) contracts.AnalyticsRow {
	return contracts.AnalyticsRow{
		Symbol:      symbol,
		WindowDate:  wday(d),
		Category:    contracts.CategoryEquity,
		Close:       null.FloatFrom(closeValue),
		Volume:      null.FloatFrom(1200),
		LoadBatchID: batch,
	}
}

func newsRow(symbol string, d int, batch string) contracts.AnalyticsRow {
	return contracts.AnalyticsRow{
		Symbol:         symbol,
		WindowDate:     wday(d),
		Category:       contracts.CategoryNews,
		SentimentLabel: null.StringFrom(string(contracts.SentimentNeutral)),
		SentimentScore: null.FloatFrom(0),
		ArticleCount:   2,
		LoadBatchID:    batch,
	}
}

func runStoreSuite(t *testing.T, store Store) {
	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx), "schema is idempotent")

	t.Run("upsert is idempotent", func(t *testing.T) {
		rows := []contracts.AnalyticsRow{
			equityRow("ACME", 2, 110, "b1"),
			newsRow("ACME", 2, "b1"),
		}
		n, err := store.UpsertPartition(ctx, wday(2), rows)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = store.UpsertPartition(ctx, wday(2), rows)
		require.NoError(t, err)

		got, err := store.Partition(ctx, wday(2))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, contracts.CategoryEquity, got[0].Category)
		assert.Equal(t, 110.0, got[0].Close.Float64)
		assert.False(t, got[0].MA7.Valid)
		assert.Equal(t, wday(2), got[0].WindowDate)
		assert.Equal(t, 2, got[1].ArticleCount)
		assert.Equal(t, string(contracts.SentimentNeutral), got[1].SentimentLabel.String)
	})

	t.Run("later batch overwrites on primary key", func(t *testing.T) {
		row := equityRow("ACME", 2, 111, "b2")
		row.MA7 = null.FloatFrom(105.5)
		_, err := store.UpsertPartition(ctx, wday(2), []contracts.AnalyticsRow{row})
		require.NoError(t, err)

		got, err := store.Partition(ctx, wday(2))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 111.0, got[0].Close.Float64)
		assert.Equal(t, 105.5, got[0].MA7.Float64)
		assert.Equal(t, "b2", got[0].LoadBatchID)
		assert.Equal(t, "b1", got[1].LoadBatchID, "other keys untouched")
	})

	t.Run("derived columns round trip", func(t *testing.T) {
		eq := equityRow("INIT", 6, 51, "b1")
		eq.Volatility30 = null.FloatFrom(0.021)
		eq.PriceRange = null.FloatFrom(2.5)
		eq.PriceChange = null.FloatFrom(-0.75)
		eq.PriceChangePct = null.FloatFrom(-1.45)
		news := newsRow("INIT", 6, "b1")
		news.Keywords = []string{"earnings", "merger"}
		plain := newsRow("MARKET", 6, "b1")

		_, err := store.UpsertPartition(ctx, wday(6), []contracts.AnalyticsRow{eq, news, plain})
		require.NoError(t, err)

		got, err := store.Partition(ctx, wday(6))
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, eq, got[0])
		assert.Equal(t, news, got[1])
		assert.Empty(t, got[2].Keywords)
		assert.False(t, got[2].PriceRange.Valid)
	})

	t.Run("history spans partitions", func(t *testing.T) {
		_, err := store.UpsertPartition(ctx, wday(1), []contracts.AnalyticsRow{equityRow("ACME", 1, 100, "b1")})
		require.NoError(t, err)
		_, err = store.UpsertPartition(ctx, wday(5), []contracts.AnalyticsRow{equityRow("ACME", 5, 120, "b1")})
		require.NoError(t, err)

		history, err := store.History(ctx, wday(1), wday(3))
		require.NoError(t, err)
		require.Len(t, history, 2, "news rows and out-of-range days excluded")
		assert.Equal(t, wday(1), history[0].Date)
		assert.Equal(t, 100.0, history[0].Close)
		assert.Equal(t, wday(2), history[1].Date)
		assert.Equal(t, contracts.CategoryEquity, history[1].Category)

		untouched, err := store.Partition(ctx, wday(5))
		require.NoError(t, err)
		assert.Len(t, untouched, 1)
	})

	t.Run("holdings snapshot is replaced", func(t *testing.T) {
		first := []contracts.Holding{
			{Symbol: "AAPL", AssetType: "stock", Quantity: decimal.NewFromInt(20), PurchasePrice: decimal.NewFromInt(160),
				CostBasis: decimal.NewFromInt(3200), PurchaseDate: wday(1), HoldingDays: 4, AsOf: wday(5), LoadBatchID: "b1"},
			{Symbol: "BTC", AssetType: "crypto", Quantity: decimal.RequireFromString("0.5"), AsOf: wday(5), LoadBatchID: "b1"},
		}
		require.NoError(t, store.ReplaceHoldings(ctx, wday(5), first))
		require.NoError(t, store.ReplaceHoldings(ctx, wday(5), first[:1]))

		got, err := store.Holdings(ctx, wday(5))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "AAPL", got[0].Symbol)
		assert.True(t, got[0].CostBasis.Equal(decimal.NewFromInt(3200)))
		assert.Equal(t, wday(1), got[0].PurchaseDate)
		assert.Equal(t, wday(5), got[0].AsOf)
	})

	t.Run("batches round trip", func(t *testing.T) {
		finished := time.Date(1990, 1, 5, 6, 3, 0, 0, time.UTC)
		b := &contracts.LoadBatch{
			BatchID:      "11111111-2222-3333-4444-555555555555",
			ScheduledFor: time.Date(1990, 1, 5, 6, 0, 0, 0, time.UTC),
			StartedAt:    time.Date(1990, 1, 5, 6, 0, 1, 0, time.UTC),
			Status:       contracts.BatchRunning,
			AttemptCount: 1,
		}
		require.NoError(t, store.SaveBatch(ctx, b))

		b.Status = contracts.BatchSucceeded
		b.FinishedAt = &finished
		b.RowsWritten = 3
		b.AddPartitions(wday(2), wday(1))
		require.NoError(t, store.SaveBatch(ctx, b))

		got, err := store.GetBatch(ctx, b.BatchID)
		require.NoError(t, err)
		assert.Equal(t, contracts.BatchSucceeded, got.Status)
		assert.Equal(t, []string{"1990-01-01", "1990-01-02"}, got.PartitionKeys())
		require.NotNil(t, got.FinishedAt)
		assert.True(t, finished.Equal(*got.FinishedAt))
		assert.True(t, b.ScheduledFor.Equal(got.ScheduledFor))

		list, err := store.ListBatches(ctx, 10)
		require.NoError(t, err)
		assert.NotEmpty(t, list)

		_, err = store.GetBatch(ctx, "missing")
		assert.ErrorIs(t, err, contracts.ErrBatchNotFound)
	})
}

func TestMemory(t *testing.T) {
	store := NewMemory()
	runStoreSuite(t, store)
	assert.Equal(t, []string{"1990-01-01", "1990-01-02", "1990-01-05", "1990-01-06"}, store.PartitionDates())
}

func TestSQLite(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "warehouse.db"), logger.Nop())
	require.NoError(t, err)
	defer store.Close()

	runStoreSuite(t, store)
}

func TestSQLite_SchemaMismatchIsRejected(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "warehouse.db"), logger.Nop())
	require.NoError(t, err)
	defer store.Close()

	// no EnsureSchema
	_, err = store.UpsertPartition(ctx, wday(1), []contracts.AnalyticsRow{equityRow("ACME", 1, 100, "b1")})
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrLoadRejected)

	_, err = store.History(ctx, wday(1), wday(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrLoadRejected, "history read on a missing table is permanent")
}

func TestSQLite_ListBatchesOrder(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "warehouse.db"), logger.Nop())
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.EnsureSchema(ctx))

	base := time.Date(1990, 1, 5, 6, 0, 0, 0, time.UTC)
	for _, b := range []*contracts.LoadBatch{
		{BatchID: "whole-second", ScheduledFor: base, StartedAt: base, Status: contracts.BatchSucceeded},
		{BatchID: "later", ScheduledFor: base, StartedAt: base.Add(100 * time.Millisecond), Status: contracts.BatchSucceeded},
		{BatchID: "earlier", ScheduledFor: base, StartedAt: base.Add(-time.Second), Status: contracts.BatchFailed},
	} {
		require.NoError(t, store.SaveBatch(ctx, b))
	}

	list, err := store.ListBatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "later", list[0].BatchID)
	assert.Equal(t, "whole-second", list[1].BatchID)
	assert.Equal(t, "earlier", list[2].BatchID)
	assert.True(t, base.Equal(list[1].StartedAt))
}

func TestOpen_Memory(t *testing.T) {
	cfg := &config.Config{Env: "development", LogLevel: "error", Warehouse: config.WarehouseConfig{Driver: "memory"}}
	store, err := Open(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, store)
	assert.NoError(t, store.Close())

	cfg.Warehouse.Driver = "bigquery"
	_, err = Open(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classifySQLite(assert.AnError), assert.AnError)
	assert.NotErrorIs(t, classifySQLite(assert.AnError), contracts.ErrLoadRejected)
	assert.ErrorIs(t, classifySQLite(errorString("SQL logic error: no such column: ma_7 (1)")), contracts.ErrLoadRejected)
}

type errorString string

func (e errorString) Error() string { return string(e) }

func TestPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	url := os.Getenv("WAREHOUSE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("WAREHOUSE_TEST_DATABASE_URL not set")
	}

	db, err := database.Connect(url, config.DatabaseConfig{MaxConns: 2})
	require.NoError(t, err)
	store := NewPostgres(db, logger.Nop())
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))
	cleanup := func() {
		_, _ = db.Pool.Exec(ctx, `DELETE FROM analytics_rows WHERE window_date < '1991-01-01'`)
		_, _ = db.Pool.Exec(ctx, `DELETE FROM portfolio_holdings WHERE as_of < '1991-01-01'`)
		_, _ = db.Pool.Exec(ctx, `DELETE FROM load_batches WHERE scheduled_for < '1991-01-01'`)
	}
	cleanup()
	defer cleanup()

	runStoreSuite(t, store)
}
