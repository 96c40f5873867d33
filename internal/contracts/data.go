package contracts

import (
	"iter"
	"slices"
	"strings"
	"time"
)

// SourceID identifies the upstream a RawRecord came from
type SourceID string

const (
	SourceEquity    SourceID = "EQUITY"
	SourceCrypto    SourceID = "CRYPTO"
	SourceNews      SourceID = "NEWS"
	SourcePortfolio SourceID = "PORTFOLIO"
)

// AllSources lists every source in the order batches are merged
var AllSources = []SourceID{SourceEquity, SourceCrypto, SourceNews, SourcePortfolio}

// String returns the source name
func (s SourceID) String() string {
	return string(s)
}

// Payload keys shared by adapters, the quality gate and the transformer.
// Values are kept as the raw strings the upstream returned.
const (
	FieldPrice         = "price"
	FieldOpen          = "open"
	FieldHigh          = "high"
	FieldLow           = "low"
	FieldVolume        = "volume"
	FieldMarketCap     = "market_cap"
	FieldChange24h     = "change_24h"
	FieldHeadline      = "headline"
	FieldURL           = "url"
	FieldPublisher     = "publisher"
	FieldQuantity      = "quantity"
	FieldPurchasePrice = "purchase_price"
	FieldPurchaseDate  = "purchase_date"
	FieldAssetType     = "asset_type"
)

// RawRecord is one observation as returned by a source adapter
// ⭐ SSOT: 어댑터 출력 형식은 여기서만 정의
type RawRecord struct {
	Source     SourceID          `json:"source"`
	Symbol     string            `json:"symbol,omitempty"` // empty = null (NEWS only)
	ObservedAt time.Time         `json:"observed_at"`
	Payload    map[string]string `json:"payload"`
	FetchAt    time.Time         `json:"fetch_at"`
}

// Value returns a trimmed payload value and whether it is present and non-empty
func (r RawRecord) Value(key string) (string, bool) {
	v, ok := r.Payload[key]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// Day returns the UTC calendar day the record was observed on
func (r RawRecord) Day() time.Time {
	return TruncateDay(r.ObservedAt)
}

// QualityFlag marks a data-quality finding on a record
type QualityFlag string

const (
	FlagMissingSymbol QualityFlag = "MISSING_SYMBOL"
	FlagMissingPrice  QualityFlag = "MISSING_PRICE"
	FlagStale         QualityFlag = "STALE"
	FlagDuplicate     QualityFlag = "DUPLICATE"
	FlagOutOfRange    QualityFlag = "OUT_OF_RANGE"
)

// AllFlags lists every quality flag
var AllFlags = []QualityFlag{FlagMissingSymbol, FlagMissingPrice, FlagStale, FlagDuplicate, FlagOutOfRange}

// Valid reports whether f is a known flag
func (f QualityFlag) Valid() bool {
	return slices.Contains(AllFlags, f)
}

// ValidatedRecord is a RawRecord after the quality gate
type ValidatedRecord struct {
	RawRecord
	Flags    []QualityFlag `json:"flags,omitempty"`
	Admitted bool          `json:"admitted"`
}

// HasFlag reports whether the record carries flag
func (v ValidatedRecord) HasFlag(flag QualityFlag) bool {
	return slices.Contains(v.Flags, flag)
}

// Records adapts a materialized batch back into a fetch sequence
func Records(records []RawRecord) iter.Seq2[RawRecord, error] {
	return func(yield func(RawRecord, error) bool) {
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// TruncateDay returns midnight UTC of t's UTC day
func TruncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DateKey formats a window date as YYYY-MM-DD
func DateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
