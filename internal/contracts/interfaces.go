package contracts

import (
	"context"
	"iter"
	"time"
)

// SourceAdapter produces a finite, non-restartable sequence of raw records.
// An error yielded by the sequence ends it and is a *SourceError.
// ⭐ SSOT: 모든 데이터 소스는 이 인터페이스로만 접근
type SourceAdapter interface {
	Source() SourceID
	Fetch(ctx context.Context, since time.Time) iter.Seq2[RawRecord, error]
}

// Warehouse is the partitioned analytics store
type Warehouse interface {
	EnsureSchema(ctx context.Context) error

	// UpsertPartition writes all rows of one window_date in a single transaction
	UpsertPartition(ctx context.Context, windowDate time.Time, rows []AnalyticsRow) (int, error)
	// ReplaceHoldings swaps the holdings snapshot for asOf in a single transaction
	ReplaceHoldings(ctx context.Context, asOf time.Time, holdings []Holding) error

	History(ctx context.Context, from, to time.Time) ([]DailyClose, error)
	Partition(ctx context.Context, windowDate time.Time) ([]AnalyticsRow, error)
	Holdings(ctx context.Context, asOf time.Time) ([]Holding, error)

	Close() error
}

// BatchRepository persists LoadBatch audit records
type BatchRepository interface {
	SaveBatch(ctx context.Context, batch *LoadBatch) error
	GetBatch(ctx context.Context, batchID string) (*LoadBatch, error)
	ListBatches(ctx context.Context, limit int) ([]*LoadBatch, error)
}

// Notifier receives exactly one notification per terminal run
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
