package coingecko

import (
	"context"
	"fmt"
	"iter"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/internal/external"
	"github.com/wonny/finpipe/pkg/httputil"
	"github.com/wonny/finpipe/pkg/logger"
)

// Coin maps a CoinGecko id onto the ticker used downstream
type Coin struct {
	ID     string
	Symbol string
}

// Config holds CoinGecko adapter settings
type Config struct {
	APIKey            string
	BaseURL           string
	Coins             []Coin
	RequestsPerMinute int
}

// Client is the CRYPTO source adapter
// ⭐ SSOT: CoinGecko API 호출은 이 클라이언트에서만
type Client struct {
	httpClient *httputil.Client
	limiter    httputil.Limiter
	cfg        Config
	logger     *logger.Logger
	now        func() time.Time
}

// NewClient creates a new CoinGecko client
func NewClient(httpClient *httputil.Client, cfg Config, log *logger.Logger) *Client {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	if cfg.APIKey != "" {
		httpClient = httpClient.WithHeader("x-cg-demo-api-key", cfg.APIKey)
	}
	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		cfg:        cfg,
		logger:     log.WithField("module", "coingecko"),
		now:        time.Now,
	}
}

// WithLimiter replaces the in-process token bucket
func (c *Client) WithLimiter(l httputil.Limiter) *Client {
	c.limiter = l
	return c
}

// Source implements contracts.SourceAdapter
func (c *Client) Source() contracts.SourceID {
	return contracts.SourceCrypto
}

// Fetch yields daily closes back to since (when since is more than a day old)
// followed by one current quote per coin.
func (c *Client) Fetch(ctx context.Context, since time.Time) iter.Seq2[contracts.RawRecord, error] {
	return func(yield func(contracts.RawRecord, error) bool) {
		now := c.now().UTC()
		sinceDay := contracts.TruncateDay(since)

		if days := backfillDays(sinceDay, now); days > 0 {
			for _, coin := range c.cfg.Coins {
				points, err := c.FetchDailyHistory(ctx, coin.ID, days)
				if err != nil {
					yield(contracts.RawRecord{}, err)
					return
				}
				for _, p := range points {
					if p.At.Before(sinceDay) {
						continue
					}
					if !yield(p.record(coin.Symbol, now), nil) {
						return
					}
				}
			}
		}

		quotes, err := c.FetchQuotes(ctx)
		if err != nil {
			yield(contracts.RawRecord{}, err)
			return
		}
		for _, q := range quotes {
			if !yield(q.record(now), nil) {
				return
			}
		}
	}
}

// backfillDays returns the market_chart range needed to reach since, or 0 when
// the current quote alone covers it.
func backfillDays(sinceDay, now time.Time) int {
	gap := contracts.TruncateDay(now).Sub(sinceDay)
	if gap <= 24*time.Hour {
		return 0
	}
	return int(math.Ceil(gap.Hours()/24)) + 1
}

// Quote is one coin's current market state
type Quote struct {
	Coin      Coin
	Price     *float64
	MarketCap *float64
	Volume24h *float64
	Change24h *float64
	UpdatedAt time.Time
}

// FetchQuotes calls simple/price for every configured coin.
// A coin absent from the response comes back with a nil Price.
func (c *Client) FetchQuotes(ctx context.Context) ([]Quote, error) {
	if len(c.cfg.Coins) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, external.Classify(contracts.SourceCrypto, err)
	}

	ids := make([]string, 0, len(c.cfg.Coins))
	for _, coin := range c.cfg.Coins {
		ids = append(ids, coin.ID)
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", "usd")
	params.Set("include_market_cap", "true")
	params.Set("include_24hr_vol", "true")
	params.Set("include_24hr_change", "true")
	params.Set("include_last_updated_at", "true")

	var resp map[string]map[string]*float64
	if err := c.httpClient.GetJSON(ctx, c.endpoint("/simple/price", params), &resp); err != nil {
		return nil, external.Classify(contracts.SourceCrypto, err)
	}

	now := c.now().UTC()
	quotes := make([]Quote, 0, len(c.cfg.Coins))
	for _, coin := range c.cfg.Coins {
		values, ok := resp[coin.ID]
		if !ok {
			c.logger.WithField("coin", coin.ID).Warn("Coin missing from price response")
			quotes = append(quotes, Quote{Coin: coin, UpdatedAt: now})
			continue
		}

		q := Quote{
			Coin:      coin,
			Price:     values["usd"],
			MarketCap: values["usd_market_cap"],
			Volume24h: values["usd_24h_vol"],
			Change24h: values["usd_24h_change"],
			UpdatedAt: now,
		}
		if ts := values["last_updated_at"]; ts != nil && *ts > 0 {
			q.UpdatedAt = time.Unix(int64(*ts), 0).UTC()
		}
		quotes = append(quotes, q)
	}

	return quotes, nil
}

// ChartPoint is one daily sample from market_chart
type ChartPoint struct {
	At     time.Time
	Price  float64
	Volume *float64
}

type marketChartResponse struct {
	Prices       [][]float64 `json:"prices"`
	TotalVolumes [][]float64 `json:"total_volumes"`
}

// FetchDailyHistory calls coins/{id}/market_chart with a daily interval
func (c *Client) FetchDailyHistory(ctx context.Context, coinID string, days int) ([]ChartPoint, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, external.Classify(contracts.SourceCrypto, err)
	}

	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("days", strconv.Itoa(days))
	params.Set("interval", "daily")

	var resp marketChartResponse
	path := "/coins/" + url.PathEscape(coinID) + "/market_chart"
	if err := c.httpClient.GetJSON(ctx, c.endpoint(path, params), &resp); err != nil {
		return nil, external.Classify(contracts.SourceCrypto, err)
	}
	if resp.Prices == nil {
		return nil, contracts.SchemaChanged(contracts.SourceCrypto, fmt.Errorf("%s: market_chart has no prices", coinID))
	}

	volumes := make(map[int64]float64, len(resp.TotalVolumes))
	for _, v := range resp.TotalVolumes {
		if len(v) == 2 {
			volumes[int64(v[0])] = v[1]
		}
	}

	points := make([]ChartPoint, 0, len(resp.Prices))
	for _, p := range resp.Prices {
		if len(p) != 2 {
			return nil, contracts.SchemaChanged(contracts.SourceCrypto, fmt.Errorf("%s: price sample has %d fields", coinID, len(p)))
		}
		ms := int64(p[0])
		point := ChartPoint{At: time.UnixMilli(ms).UTC(), Price: p[1]}
		if v, ok := volumes[ms]; ok {
			point.Volume = &v
		}
		points = append(points, point)
	}

	c.logger.WithFields(map[string]interface{}{
		"coin":   coinID,
		"days":   days,
		"points": len(points),
	}).Debug("Fetched market chart")

	return points, nil
}

func (c *Client) endpoint(path string, params url.Values) string {
	return fmt.Sprintf("%s%s?%s", strings.TrimRight(c.cfg.BaseURL, "/"), path, params.Encode())
}

func (q Quote) record(fetchAt time.Time) contracts.RawRecord {
	payload := map[string]string{}
	setFloat(payload, contracts.FieldPrice, q.Price)
	setFloat(payload, contracts.FieldMarketCap, q.MarketCap)
	setFloat(payload, contracts.FieldVolume, q.Volume24h)
	setFloat(payload, contracts.FieldChange24h, q.Change24h)

	return contracts.RawRecord{
		Source:     contracts.SourceCrypto,
		Symbol:     q.Coin.Symbol,
		ObservedAt: q.UpdatedAt,
		Payload:    payload,
		FetchAt:    fetchAt,
	}
}

func (p ChartPoint) record(symbol string, fetchAt time.Time) contracts.RawRecord {
	payload := map[string]string{}
	setFloat(payload, contracts.FieldPrice, &p.Price)
	setFloat(payload, contracts.FieldVolume, p.Volume)

	return contracts.RawRecord{
		Source:     contracts.SourceCrypto,
		Symbol:     symbol,
		ObservedAt: p.At,
		Payload:    payload,
		FetchAt:    fetchAt,
	}
}

// setFloat stores v in its shortest exact decimal form
func setFloat(payload map[string]string, key string, v *float64) {
	if v == nil {
		return
	}
	payload[key] = decimal.NewFromFloat(*v).String()
}
