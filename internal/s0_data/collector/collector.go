package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/logger"
)

// Collector runs the source adapters of one invocation
// ⭐ SSOT: 데이터 수집 오케스트레이션은 이 패키지에서만
type Collector struct {
	adapters map[contracts.SourceID]contracts.SourceAdapter
	order    []contracts.SourceID
	logger   *logger.Logger
}

// NewCollector creates a collector over adapters. Later adapters for the same
// source replace earlier ones.
func NewCollector(log *logger.Logger, adapters ...contracts.SourceAdapter) *Collector {
	c := &Collector{
		adapters: make(map[contracts.SourceID]contracts.SourceAdapter, len(adapters)),
		logger:   log.WithField("module", "collector"),
	}
	for _, a := range adapters {
		if _, ok := c.adapters[a.Source()]; !ok {
			c.order = append(c.order, a.Source())
		}
		c.adapters[a.Source()] = a
	}
	return c
}

// FetchResult is one adapter's fully drained batch
type FetchResult struct {
	Source   contracts.SourceID
	Records  []contracts.RawRecord
	Duration time.Duration
	Error    error
}

// FetchAll drains every adapter concurrently.
// Results come back in registration order; a failing adapter does not cancel the others.
func (c *Collector) FetchAll(ctx context.Context, since time.Time) []FetchResult {
	return c.fetch(ctx, since, c.order)
}

// FetchSources drains only the named sources, e.g. the ones that failed last attempt
func (c *Collector) FetchSources(ctx context.Context, since time.Time, sources []contracts.SourceID) []FetchResult {
	return c.fetch(ctx, since, sources)
}

func (c *Collector) fetch(ctx context.Context, since time.Time, sources []contracts.SourceID) []FetchResult {
	c.logger.WithFields(map[string]interface{}{
		"sources": len(sources),
		"since":   since.UTC().Format(time.RFC3339),
	}).Info("Starting extraction")

	type indexed struct {
		idx    int
		result FetchResult
	}
	resultCh := make(chan indexed, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		adapter, ok := c.adapters[src]
		if !ok {
			resultCh <- indexed{idx: i, result: FetchResult{
				Source: src,
				Error:  contracts.SchemaChanged(src, fmt.Errorf("no adapter registered")),
			}}
			continue
		}

		wg.Add(1)
		go func(idx int, adapter contracts.SourceAdapter) {
			defer wg.Done()
			resultCh <- indexed{idx: idx, result: c.drain(ctx, adapter, since)}
		}(i, adapter)
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]FetchResult, len(sources))
	successCount, failCount, records := 0, 0, 0
	for r := range resultCh {
		results[r.idx] = r.result
		if r.result.Error != nil {
			failCount++
		} else {
			successCount++
			records += len(r.result.Records)
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"success": successCount,
		"failed":  failCount,
		"records": records,
	}).Info("Extraction completed")

	return results
}

// drain consumes the adapter's sequence. A mid-stream error discards the
// partial batch: callers get all of a source or none of it.
func (c *Collector) drain(ctx context.Context, adapter contracts.SourceAdapter, since time.Time) FetchResult {
	start := time.Now()
	result := FetchResult{Source: adapter.Source()}

	for rec, err := range adapter.Fetch(ctx, since) {
		if err != nil {
			result.Error = err
			result.Records = nil
			break
		}
		result.Records = append(result.Records, rec)
	}
	if result.Error == nil && ctx.Err() != nil {
		result.Error = ctx.Err()
		result.Records = nil
	}
	result.Duration = time.Since(start)

	entry := c.logger.WithFields(map[string]interface{}{
		"source":   result.Source,
		"records":  len(result.Records),
		"duration": result.Duration.String(),
	})
	if result.Error != nil {
		entry.WithError(result.Error).Warn("Source fetch failed")
	} else {
		entry.Debug("Source fetch completed")
	}

	return result
}
