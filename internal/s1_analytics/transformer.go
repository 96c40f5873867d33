package s1_analytics

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/logger"
)

// Config holds transformer parameters
type Config struct {
	MarketSymbol   string   // pseudo-symbol for untargeted headlines
	TrackedSymbols []string // bare-word tickers recognized in headlines
	BullishTerms   map[string]float64
	BearishTerms   map[string]float64
	Keywords       []string // topic keywords tagged on NEWS rows
}

// Transformer turns admitted records into analytics rows
// ⭐ SSOT: 이동평균, 변동성, 감성 분석은 여기서만
type Transformer struct {
	market   string
	tracked  map[string]bool
	lexicon  *Lexicon
	keywords []string
	logger   *logger.Logger
}

// NewTransformer creates a new transformer
func NewTransformer(cfg Config, log *logger.Logger) *Transformer {
	market := cfg.MarketSymbol
	if market == "" {
		market = "MARKET"
	}
	tracked := make(map[string]bool, len(cfg.TrackedSymbols))
	for _, s := range cfg.TrackedSymbols {
		tracked[strings.ToUpper(s)] = true
	}
	keywords := make([]string, 0, len(cfg.Keywords))
	for _, k := range cfg.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" && !slices.Contains(keywords, k) {
			keywords = append(keywords, k)
		}
	}
	return &Transformer{
		market:   market,
		tracked:  tracked,
		lexicon:  NewLexicon(cfg.BullishTerms, cfg.BearishTerms),
		keywords: keywords,
		logger:   log.WithField("module", "transformer"),
	}
}

// Anomaly is a malformed payload that produced no row
type Anomaly struct {
	Source contracts.SourceID `json:"source"`
	Symbol string             `json:"symbol"`
	Date   string             `json:"date"`
	Reason string             `json:"reason"`
}

// Report summarizes one Transform call
type Report struct {
	Input     int       `json:"input"`
	Skipped   int       `json:"skipped"` // not admitted
	Rows      int       `json:"rows"`
	Anomalies []Anomaly `json:"anomalies,omitempty"`
}

func (r *Report) anomaly(src contracts.SourceID, symbol string, day time.Time, format string, args ...any) {
	r.Anomalies = append(r.Anomalies, Anomaly{
		Source: src,
		Symbol: symbol,
		Date:   contracts.DateKey(day),
		Reason: fmt.Sprintf(format, args...),
	})
}

type seriesKey struct {
	category contracts.Category
	symbol   string
}

// dayClose is the parsed close observation of one batch day
type dayClose struct {
	observed time.Time
	close    decimal.Decimal
	volume   null.Float

	open, high, low decimal.NullDecimal
}

// Transform computes one row per (symbol, window_date, category) present in
// admitted. history supplies earlier closes; batch closes override it on the
// same day. Output is sorted and carries no wall-clock values besides batchID.
func (t *Transformer) Transform(ctx context.Context, admitted []contracts.ValidatedRecord, history []contracts.DailyClose, batchID string) ([]contracts.AnalyticsRow, *Report) {
	report := &Report{Input: len(admitted)}

	prices, news := t.partition(admitted, report)

	var rows []contracts.AnalyticsRow
	rows = append(rows, t.priceRows(prices, history, batchID)...)
	rows = append(rows, t.newsRows(news, batchID, report)...)

	sortRows(rows)
	report.Rows = len(rows)

	t.logger.WithFields(map[string]interface{}{
		"input":     report.Input,
		"skipped":   report.Skipped,
		"rows":      report.Rows,
		"anomalies": len(report.Anomalies),
	}).Info("Transform completed")
	t.logAnomalies(report)

	return rows, report
}

func (t *Transformer) logAnomalies(report *Report) {
	for _, a := range report.Anomalies {
		t.logger.WithFields(map[string]interface{}{
			"source": a.Source,
			"symbol": a.Symbol,
			"date":   a.Date,
			"reason": a.Reason,
		}).Warn("Malformed record dropped")
	}
}

// partition parses price records into one close per (series, day) and
// collects admitted news. A malformed price or volume drops its whole day.
func (t *Transformer) partition(admitted []contracts.ValidatedRecord, report *Report) (map[seriesKey]map[time.Time]*dayClose, []contracts.RawRecord) {
	prices := make(map[seriesKey]map[time.Time]*dayClose)
	poisoned := make(map[seriesKey]map[time.Time]bool)
	var news []contracts.RawRecord

	for _, v := range admitted {
		if !v.Admitted {
			report.Skipped++
			continue
		}
		rec := v.RawRecord

		category, ok := contracts.CategoryFor(rec.Source)
		if !ok {
			continue // holdings go through TransformHoldings
		}
		if category == contracts.CategoryNews {
			news = append(news, rec)
			continue
		}

		if strings.TrimSpace(rec.Symbol) == "" {
			report.anomaly(rec.Source, "", rec.Day(), "%v", errMissing("symbol"))
			continue
		}

		key := seriesKey{category: category, symbol: strings.ToUpper(strings.TrimSpace(rec.Symbol))}
		day := rec.Day()
		if poisoned[key][day] {
			continue
		}

		dc, err := parseQuote(rec)
		if err != nil {
			report.anomaly(rec.Source, key.symbol, day, "%v", err)
			if poisoned[key] == nil {
				poisoned[key] = make(map[time.Time]bool)
			}
			poisoned[key][day] = true
			delete(prices[key], day)
			continue
		}

		if prices[key] == nil {
			prices[key] = make(map[time.Time]*dayClose)
		}
		// latest observation of the day is the close; first one wins a tie
		if cur, ok := prices[key][day]; !ok || rec.ObservedAt.After(cur.observed) {
			prices[key][day] = dc
		}
	}

	return prices, news
}

// parseQuote reads the close and the optional volume and open/high/low.
// Any present but unparseable value is an error.
func parseQuote(rec contracts.RawRecord) (*dayClose, error) {
	raw, ok := rec.Value(contracts.FieldPrice)
	if !ok {
		return nil, errMissing(contracts.FieldPrice)
	}
	closeValue, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, errUnparseable(contracts.FieldPrice, raw)
	}
	dc := &dayClose{observed: rec.ObservedAt, close: closeValue}

	if rawVol, ok := rec.Value(contracts.FieldVolume); ok {
		v, err := decimal.NewFromString(rawVol)
		if err != nil {
			return nil, errUnparseable(contracts.FieldVolume, rawVol)
		}
		dc.volume = null.FloatFrom(v.InexactFloat64())
	}

	for _, f := range []struct {
		field string
		dst   *decimal.NullDecimal
	}{
		{contracts.FieldOpen, &dc.open},
		{contracts.FieldHigh, &dc.high},
		{contracts.FieldLow, &dc.low},
	} {
		rawValue, ok := rec.Value(f.field)
		if !ok {
			continue
		}
		v, err := decimal.NewFromString(rawValue)
		if err != nil {
			return nil, errUnparseable(f.field, rawValue)
		}
		*f.dst = decimal.NewNullDecimal(v)
	}

	return dc, nil
}

// priceRows builds EQUITY and CRYPTO rows for every batch day
func (t *Transformer) priceRows(prices map[seriesKey]map[time.Time]*dayClose, history []contracts.DailyClose, batchID string) []contracts.AnalyticsRow {
	past := make(map[seriesKey]map[time.Time]decimal.Decimal)
	for _, h := range history {
		key := seriesKey{category: h.Category, symbol: strings.ToUpper(h.Symbol)}
		if _, ok := prices[key]; !ok {
			continue
		}
		if past[key] == nil {
			past[key] = make(map[time.Time]decimal.Decimal)
		}
		past[key][contracts.TruncateDay(h.Date)] = decimal.NewFromFloat(h.Close)
	}

	var rows []contracts.AnalyticsRow
	for key, batchDays := range prices {
		series := past[key]
		if series == nil {
			series = make(map[time.Time]decimal.Decimal)
		}
		for day, dc := range batchDays {
			series[day] = dc.close
		}

		days := make([]time.Time, 0, len(series))
		for d := range series {
			days = append(days, d)
		}
		slices.SortFunc(days, func(a, b time.Time) int { return a.Compare(b) })

		closes := make([]decimal.Decimal, len(days))
		for i, d := range days {
			closes[i] = series[d]
		}

		for i, day := range days {
			dc, inBatch := batchDays[day]
			if !inBatch {
				continue
			}
			window := closes[:i+1]

			row := contracts.AnalyticsRow{
				Symbol:       key.symbol,
				WindowDate:   day,
				Category:     key.category,
				Close:        null.FloatFrom(dc.close.InexactFloat64()),
				Volume:       dc.volume,
				MA7:          movingAverage(window, ShortWindow),
				MA30:         movingAverage(window, LongWindow),
				Volatility:   volatility(window, ShortWindow),
				Volatility30: volatility(window, LongWindow),
				PriceRange:   priceRange(dc.high, dc.low),
				LoadBatchID:  batchID,
			}
			row.PriceChange, row.PriceChangePct = priceChange(dc.open, dc.close)
			if i > 0 {
				row.DailyReturn = simpleReturn(closes[i-1], dc.close)
			}
			if key.category == contracts.CategoryCrypto {
				row.PriceTier = null.StringFrom(priceTier(dc.close))
			}
			rows = append(rows, row)
		}
	}
	return rows
}

type newsAgg struct {
	score    decimal.Decimal
	articles int
	keywords map[string]bool
}

// newsRows scores headlines and aggregates them per (symbol, day)
func (t *Transformer) newsRows(news []contracts.RawRecord, batchID string, report *Report) []contracts.AnalyticsRow {
	type key struct {
		symbol string
		day    time.Time
	}
	aggs := make(map[key]*newsAgg)

	for _, rec := range news {
		headline, ok := rec.Value(contracts.FieldHeadline)
		if !ok {
			report.anomaly(rec.Source, rec.Symbol, rec.Day(), "missing headline")
			continue
		}

		k := key{symbol: newsSymbol(rec, headline, t.tracked, t.market), day: rec.Day()}
		agg := aggs[k]
		if agg == nil {
			agg = &newsAgg{score: decimal.Zero, keywords: make(map[string]bool)}
			aggs[k] = agg
		}
		agg.score = agg.score.Add(t.lexicon.Score(headline))
		agg.articles++
		for _, kw := range matchKeywords(headline, t.keywords) {
			agg.keywords[kw] = true
		}
	}

	rows := make([]contracts.AnalyticsRow, 0, len(aggs))
	for k, agg := range aggs {
		rows = append(rows, contracts.AnalyticsRow{
			Symbol:         k.symbol,
			WindowDate:     k.day,
			Category:       contracts.CategoryNews,
			SentimentLabel: null.StringFrom(string(Label(agg.score))),
			SentimentScore: null.FloatFrom(agg.score.InexactFloat64()),
			ArticleCount:   agg.articles,
			Keywords:       slices.Sorted(maps.Keys(agg.keywords)),
			LoadBatchID:    batchID,
		})
	}
	return rows
}

// sortRows orders by (window_date, category, symbol)
func sortRows(rows []contracts.AnalyticsRow) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.WindowDate.Equal(b.WindowDate) {
			return a.WindowDate.Before(b.WindowDate)
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Symbol < b.Symbol
	})
}
