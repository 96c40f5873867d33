package quality

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/logger"
)

// Config holds the gate's admission rules
type Config struct {
	StalenessWindow time.Duration
	RejectFlags     []contracts.QualityFlag
	Calendar        *TradingCalendar // nil = calendar days for EQUITY staleness
}

// DefaultRejectFlags rejects everything except STALE
var DefaultRejectFlags = []contracts.QualityFlag{
	contracts.FlagMissingSymbol,
	contracts.FlagMissingPrice,
	contracts.FlagDuplicate,
	contracts.FlagOutOfRange,
}

// Gate validates raw records before transformation
// ⭐ SSOT: S0 → S1 품질 검증
type Gate struct {
	config Config
	reject map[contracts.QualityFlag]bool
	logger *logger.Logger
}

// NewGate creates a new quality gate
func NewGate(config Config, log *logger.Logger) *Gate {
	if config.RejectFlags == nil {
		config.RejectFlags = DefaultRejectFlags
	}
	reject := make(map[contracts.QualityFlag]bool, len(config.RejectFlags))
	for _, f := range config.RejectFlags {
		reject[f] = true
	}
	return &Gate{
		config: config,
		reject: reject,
		logger: log.WithField("module", "quality_gate"),
	}
}

// Report summarizes one Validate call
type Report struct {
	Total    int                                  `json:"total"`
	Admitted int                                  `json:"admitted"`
	Flags    map[contracts.QualityFlag]int        `json:"flags"`
	BySource map[contracts.SourceID]*SourceReport `json:"by_source"`
}

// SourceReport counts one source's records
type SourceReport struct {
	Total    int `json:"total"`
	Admitted int `json:"admitted"`
}

// AdmissionRate is admitted / total, 1 for an empty batch
func (r *Report) AdmissionRate() float64 {
	if r.Total == 0 {
		return 1
	}
	return float64(r.Admitted) / float64(r.Total)
}

// Validate applies the rules to every record of batch, in input order.
// Bad records are flagged, never returned as errors; the call fails only if
// batch itself yields an error.
func (g *Gate) Validate(ctx context.Context, batch iter.Seq2[contracts.RawRecord, error], asOf time.Time) ([]contracts.ValidatedRecord, *Report, error) {
	report := &Report{
		Flags:    make(map[contracts.QualityFlag]int),
		BySource: make(map[contracts.SourceID]*SourceReport),
	}
	seen := make(map[string]bool)
	var out []contracts.ValidatedRecord

	for rec, err := range batch {
		if err != nil {
			return nil, nil, fmt.Errorf("consume batch: %w", err)
		}

		v := g.check(rec, asOf, seen)
		out = append(out, v)

		src := report.BySource[rec.Source]
		if src == nil {
			src = &SourceReport{}
			report.BySource[rec.Source] = src
		}
		report.Total++
		src.Total++
		if v.Admitted {
			report.Admitted++
			src.Admitted++
		}
		for _, f := range v.Flags {
			report.Flags[f]++
		}
	}

	g.logger.WithFields(map[string]interface{}{
		"total":    report.Total,
		"admitted": report.Admitted,
		"flags":    report.Flags,
		"as_of":    asOf.UTC().Format(time.RFC3339),
	}).Info("Quality gate completed")

	return out, report, nil
}

// check runs rules (a) required fields, (b) freshness, (c) duplicates, (d) range
func (g *Gate) check(rec contracts.RawRecord, asOf time.Time, seen map[string]bool) contracts.ValidatedRecord {
	var flags []contracts.QualityFlag
	flag := func(f contracts.QualityFlag) {
		if !slices.Contains(flags, f) {
			flags = append(flags, f)
		}
	}

	// (a)
	if requiresSymbol(rec.Source) && rec.Symbol == "" {
		flag(contracts.FlagMissingSymbol)
	}
	if requiresPrice(rec.Source) {
		if _, ok := rec.Value(contracts.FieldPrice); !ok {
			flag(contracts.FlagMissingPrice)
		}
	}

	// (b)
	if g.isStale(rec, asOf) {
		flag(contracts.FlagStale)
	}

	// (c)
	key := dedupKey(rec)
	if seen[key] {
		flag(contracts.FlagDuplicate)
	} else {
		seen[key] = true
	}

	// (d)
	for _, field := range nonNegativeFields {
		raw, ok := rec.Value(field)
		if !ok {
			continue
		}
		if d, err := decimal.NewFromString(raw); err == nil && d.IsNegative() {
			flag(contracts.FlagOutOfRange)
			break
		}
	}

	admitted := true
	for _, f := range flags {
		if g.reject[f] {
			admitted = false
			break
		}
	}

	return contracts.ValidatedRecord{RawRecord: rec, Flags: flags, Admitted: admitted}
}

// nonNegativeFields are the payload values that can never be below zero.
// Unparseable values are left for the transformer to drop.
var nonNegativeFields = []string{
	contracts.FieldPrice,
	contracts.FieldOpen,
	contracts.FieldHigh,
	contracts.FieldLow,
	contracts.FieldVolume,
	contracts.FieldMarketCap,
	contracts.FieldQuantity,
	contracts.FieldPurchasePrice,
}

func requiresSymbol(src contracts.SourceID) bool {
	return src == contracts.SourceEquity || src == contracts.SourceCrypto || src == contracts.SourcePortfolio
}

func requiresPrice(src contracts.SourceID) bool {
	return src == contracts.SourceEquity || src == contracts.SourceCrypto
}

// isStale compares the record's age against the window. Holdings are a
// snapshot and never go stale. EQUITY age excludes whole days the exchange was closed.
func (g *Gate) isStale(rec contracts.RawRecord, asOf time.Time) bool {
	if rec.Source == contracts.SourcePortfolio || g.config.StalenessWindow <= 0 {
		return false
	}

	age := asOf.Sub(rec.ObservedAt)
	if rec.Source == contracts.SourceEquity && g.config.Calendar != nil {
		closed := g.config.Calendar.ClosedDaysBetween(rec.Day(), contracts.TruncateDay(asOf))
		age -= time.Duration(closed) * 24 * time.Hour
	}

	return age > g.config.StalenessWindow
}

// dedupKey is (source, symbol, observed_at); NEWS adds the article link
// because many headlines share a null symbol and scrape time.
func dedupKey(rec contracts.RawRecord) string {
	key := fmt.Sprintf("%s|%s|%s", rec.Source, rec.Symbol, rec.ObservedAt.UTC().Format(time.RFC3339Nano))
	if rec.Source == contracts.SourceNews {
		if u, ok := rec.Value(contracts.FieldURL); ok {
			key += "|" + u
		} else if h, ok := rec.Value(contracts.FieldHeadline); ok {
			key += "|" + h
		}
	}
	return key
}
