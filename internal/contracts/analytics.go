package contracts

import (
	"fmt"
	"slices"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// Category is the analytics row category
type Category string

const (
	CategoryEquity Category = "EQUITY"
	CategoryCrypto Category = "CRYPTO"
	CategoryNews   Category = "NEWS"
)

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	return c == CategoryEquity || c == CategoryCrypto || c == CategoryNews
}

// CategoryFor maps a source onto its analytics category.
// PORTFOLIO has none.
func CategoryFor(s SourceID) (Category, bool) {
	switch s {
	case SourceEquity:
		return CategoryEquity, true
	case SourceCrypto:
		return CategoryCrypto, true
	case SourceNews:
		return CategoryNews, true
	default:
		return "", false
	}
}

// SentimentLabel classifies aggregated news sentiment
type SentimentLabel string

const (
	SentimentBullish SentimentLabel = "BULLISH"
	SentimentBearish SentimentLabel = "BEARISH"
	SentimentNeutral SentimentLabel = "NEUTRAL"
)

// Valid reports whether l is a known label
func (l SentimentLabel) Valid() bool {
	return l == SentimentBullish || l == SentimentBearish || l == SentimentNeutral
}

// Crypto price tiers
const (
	TierLow      = "low"
	TierMedium   = "medium"
	TierHigh     = "high"
	TierVeryHigh = "very_high"
)

// AnalyticsRow is one warehouse row, unique on (symbol, window_date, category)
// ⭐ SSOT: 분석 결과 스키마는 여기서만 정의
type AnalyticsRow struct {
	Symbol     string    `json:"symbol"`
	WindowDate time.Time `json:"window_date"`
	Category   Category  `json:"category"`

	Close        null.Float  `json:"close"`
	Volume       null.Float  `json:"volume"`
	DailyReturn  null.Float  `json:"daily_return"`
	MA7          null.Float  `json:"ma_7"`
	MA30         null.Float  `json:"ma_30"`
	Volatility   null.Float  `json:"volatility"`
	Volatility30 null.Float  `json:"volatility_30d"`
	PriceTier    null.String `json:"price_tier"` // CRYPTO only

	// intraday, from the close observation's open/high/low when reported
	PriceRange     null.Float `json:"price_range"`      // high - low
	PriceChange    null.Float `json:"price_change"`     // close - open
	PriceChangePct null.Float `json:"price_change_pct"` // percent of open

	// NEWS rows only
	SentimentLabel null.String `json:"sentiment_label"`
	SentimentScore null.Float  `json:"sentiment_score"`
	ArticleCount   int         `json:"article_count"`
	Keywords       []string    `json:"keywords,omitempty"` // sorted topic keywords found in the headlines

	LoadBatchID string `json:"load_batch_id"`
}

// RowKey is the warehouse primary key of an AnalyticsRow
type RowKey struct {
	Symbol     string
	WindowDate string
	Category   Category
}

// Key returns the row's primary key
func (r AnalyticsRow) Key() RowKey {
	return RowKey{Symbol: r.Symbol, WindowDate: DateKey(r.WindowDate), Category: r.Category}
}

// Validate checks the row against the warehouse schema
func (r AnalyticsRow) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !r.Category.Valid() {
		return fmt.Errorf("invalid category %q", r.Category)
	}
	if r.WindowDate.IsZero() || !r.WindowDate.Equal(TruncateDay(r.WindowDate)) {
		return fmt.Errorf("window_date %s is not a UTC day", r.WindowDate)
	}
	if r.LoadBatchID == "" {
		return fmt.Errorf("load_batch_id is required")
	}
	if r.ArticleCount < 0 {
		return fmt.Errorf("article_count must not be negative")
	}
	if r.SentimentLabel.Valid {
		if r.Category != CategoryNews {
			return fmt.Errorf("sentiment_label set on %s row", r.Category)
		}
		if !SentimentLabel(r.SentimentLabel.String).Valid() {
			return fmt.Errorf("invalid sentiment_label %q", r.SentimentLabel.String)
		}
	}
	if r.PriceTier.Valid && r.Category != CategoryCrypto {
		return fmt.Errorf("price_tier set on %s row", r.Category)
	}
	if len(r.Keywords) > 0 && r.Category != CategoryNews {
		return fmt.Errorf("keywords set on %s row", r.Category)
	}
	return nil
}

// HasKeyword reports whether keyword was found in the row's headlines
func (r AnalyticsRow) HasKeyword(keyword string) bool {
	_, found := slices.BinarySearch(r.Keywords, keyword)
	return found
}

// Holding is one position in the portfolio snapshot for an as-of date
type Holding struct {
	Symbol        string          `json:"symbol"`
	AssetType     string          `json:"asset_type"`
	Quantity      decimal.Decimal `json:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchase_price"` // quantity-weighted across lots
	PurchaseDate  time.Time       `json:"purchase_date"`  // earliest lot
	CostBasis     decimal.Decimal `json:"cost_basis"`
	HoldingDays   int             `json:"holding_days"`
	AsOf          time.Time       `json:"as_of"`
	LoadBatchID   string          `json:"load_batch_id"`
}

// DailyClose is one persisted close used as moving-window history
type DailyClose struct {
	Category Category
	Symbol   string
	Date     time.Time
	Close    float64
}
