package s1_analytics

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/finpipe/internal/contracts"
)

// TransformHoldings folds admitted PORTFOLIO lots into one holding per symbol.
// holding_days is measured against asOf (the scheduled slot), never the wall clock.
func (t *Transformer) TransformHoldings(admitted []contracts.ValidatedRecord, asOf time.Time, batchID string) ([]contracts.Holding, *Report) {
	report := &Report{}
	asOfDay := contracts.TruncateDay(asOf)
	bySymbol := make(map[string]*contracts.Holding)

	for _, v := range admitted {
		if v.Source != contracts.SourcePortfolio {
			continue
		}
		report.Input++
		if !v.Admitted {
			report.Skipped++
			continue
		}

		symbol := strings.ToUpper(strings.TrimSpace(v.Symbol))
		if symbol == "" {
			report.anomaly(v.Source, "", v.Day(), "%v", errMissing("symbol"))
			continue
		}
		lot, err := parseLot(v.RawRecord)
		if err != nil {
			report.anomaly(v.Source, symbol, v.Day(), "%v", err)
			continue
		}

		h := bySymbol[symbol]
		if h == nil {
			h = &contracts.Holding{
				Symbol:      symbol,
				AssetType:   lot.assetType,
				AsOf:        asOfDay,
				LoadBatchID: batchID,
			}
			bySymbol[symbol] = h
		}
		h.Quantity = h.Quantity.Add(lot.quantity)
		h.CostBasis = h.CostBasis.Add(lot.quantity.Mul(lot.price))
		if !lot.purchased.IsZero() && (h.PurchaseDate.IsZero() || lot.purchased.Before(h.PurchaseDate)) {
			h.PurchaseDate = lot.purchased
		}
		if h.AssetType == "" {
			h.AssetType = lot.assetType
		}
	}

	holdings := make([]contracts.Holding, 0, len(bySymbol))
	for _, h := range bySymbol {
		if !h.Quantity.IsZero() {
			h.PurchasePrice = h.CostBasis.Div(h.Quantity).Round(8)
		}
		if !h.PurchaseDate.IsZero() {
			h.HoldingDays = int(asOfDay.Sub(h.PurchaseDate).Hours() / 24)
		}
		holdings = append(holdings, *h)
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Symbol < holdings[j].Symbol })

	report.Rows = len(holdings)
	t.logger.WithFields(map[string]interface{}{
		"lots":      report.Input,
		"holdings":  report.Rows,
		"anomalies": len(report.Anomalies),
	}).Info("Holdings transform completed")
	t.logAnomalies(report)

	return holdings, report
}

type lot struct {
	quantity  decimal.Decimal
	price     decimal.Decimal
	purchased time.Time
	assetType string
}

func parseLot(rec contracts.RawRecord) (lot, error) {
	var l lot

	raw, ok := rec.Value(contracts.FieldQuantity)
	if !ok {
		return l, errMissing(contracts.FieldQuantity)
	}
	q, err := decimal.NewFromString(raw)
	if err != nil {
		return l, errUnparseable(contracts.FieldQuantity, raw)
	}
	l.quantity = q

	l.price = decimal.Zero
	if raw, ok := rec.Value(contracts.FieldPurchasePrice); ok {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return l, errUnparseable(contracts.FieldPurchasePrice, raw)
		}
		l.price = p
	}

	if raw, ok := rec.Value(contracts.FieldPurchaseDate); ok {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return l, errUnparseable(contracts.FieldPurchaseDate, raw)
		}
		l.purchased = d
	}

	l.assetType, _ = rec.Value(contracts.FieldAssetType)
	return l, nil
}
