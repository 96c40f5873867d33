package warehouse

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wonny/finpipe/internal/contracts"
)

// Memory is an in-process store for tests and dry runs.
// Data lives until the process exits.
type Memory struct {
	mu         sync.RWMutex
	partitions map[string]map[contracts.RowKey]contracts.AnalyticsRow // window_date -> rows
	holdings   map[string][]contracts.Holding                         // as_of -> snapshot
	batches    map[string]*contracts.LoadBatch
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{
		partitions: make(map[string]map[contracts.RowKey]contracts.AnalyticsRow),
		holdings:   make(map[string][]contracts.Holding),
		batches:    make(map[string]*contracts.LoadBatch),
	}
}

// EnsureSchema is a no-op
func (m *Memory) EnsureSchema(ctx context.Context) error {
	return nil
}

// UpsertPartition replaces rows on their primary key; the partition is
// updated as a whole under the lock.
func (m *Memory) UpsertPartition(ctx context.Context, windowDate time.Time, rows []contracts.AnalyticsRow) (int, error) {
	key := contracts.DateKey(windowDate)

	m.mu.Lock()
	defer m.mu.Unlock()

	part := m.partitions[key]
	if part == nil {
		part = make(map[contracts.RowKey]contracts.AnalyticsRow, len(rows))
		m.partitions[key] = part
	}
	for _, r := range rows {
		r.WindowDate = contracts.TruncateDay(r.WindowDate)
		part[r.Key()] = r
	}
	return len(rows), nil
}

// ReplaceHoldings swaps the holdings snapshot of asOf
func (m *Memory) ReplaceHoldings(ctx context.Context, asOf time.Time, holdings []contracts.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.holdings[contracts.DateKey(asOf)] = slices.Clone(holdings)
	return nil
}

// History returns persisted EQUITY and CRYPTO closes in [from, to]
func (m *Memory) History(ctx context.Context, from, to time.Time) ([]contracts.DailyClose, error) {
	fromKey, toKey := contracts.DateKey(from), contracts.DateKey(to)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []contracts.DailyClose
	for key, part := range m.partitions {
		if key < fromKey || key > toKey {
			continue
		}
		for _, r := range part {
			if r.Category == contracts.CategoryNews || !r.Close.Valid {
				continue
			}
			out = append(out, contracts.DailyClose{
				Category: r.Category,
				Symbol:   r.Symbol,
				Date:     r.WindowDate,
				Close:    r.Close.Float64,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Date.Before(b.Date)
	})
	return out, nil
}

// Partition returns the rows of one window_date ordered by category, symbol
func (m *Memory) Partition(ctx context.Context, windowDate time.Time) ([]contracts.AnalyticsRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	part := m.partitions[contracts.DateKey(windowDate)]
	out := make([]contracts.AnalyticsRow, 0, len(part))
	for _, r := range part {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

// PartitionDates lists every stored window_date in ascending order
func (m *Memory) PartitionDates() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dates := make([]string, 0, len(m.partitions))
	for k := range m.partitions {
		dates = append(dates, k)
	}
	sort.Strings(dates)
	return dates
}

// Holdings returns the snapshot of asOf
func (m *Memory) Holdings(ctx context.Context, asOf time.Time) ([]contracts.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.holdings[contracts.DateKey(asOf)]), nil
}

// SaveBatch stores a copy of b
func (m *Memory) SaveBatch(ctx context.Context, b *contracts.LoadBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches[b.BatchID] = cloneBatch(b)
	return nil
}

// GetBatch returns contracts.ErrBatchNotFound for an unknown id
func (m *Memory) GetBatch(ctx context.Context, batchID string) (*contracts.LoadBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[batchID]
	if !ok {
		return nil, contracts.ErrBatchNotFound
	}
	return cloneBatch(b), nil
}

// ListBatches returns the most recent batches first
func (m *Memory) ListBatches(ctx context.Context, limit int) ([]*contracts.LoadBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*contracts.LoadBatch, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, cloneBatch(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return strings.Compare(out[i].BatchID, out[j].BatchID) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}

func cloneBatch(b *contracts.LoadBatch) *contracts.LoadBatch {
	c := *b
	c.PartitionsTouched = slices.Clone(b.PartitionsTouched)
	if b.FinishedAt != nil {
		t := *b.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
