package alphavantage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/internal/external"
	"github.com/wonny/finpipe/pkg/httputil"
	"github.com/wonny/finpipe/pkg/logger"
)

// Config holds Alpha Vantage adapter settings
type Config struct {
	APIKey            string
	BaseURL           string
	Symbols           []string
	RequestsPerMinute int
}

// Client is the EQUITY source adapter backed by TIME_SERIES_DAILY
// ⭐ SSOT: Alpha Vantage API 호출은 이 클라이언트에서만
type Client struct {
	httpClient *httputil.Client
	limiter    httputil.Limiter
	cfg        Config
	logger     *logger.Logger
	now        func() time.Time
}

// NewClient creates a new Alpha Vantage client.
// The free tier allows 5 requests per minute, enforced with a token bucket.
func NewClient(httpClient *httputil.Client, cfg Config, log *logger.Logger) *Client {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 5
	}
	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		cfg:        cfg,
		logger:     log.WithField("module", "alphavantage"),
		now:        time.Now,
	}
}

// WithLimiter replaces the in-process token bucket, e.g. with a Redis window shared across workers
func (c *Client) WithLimiter(l httputil.Limiter) *Client {
	c.limiter = l
	return c
}

// Source implements contracts.SourceAdapter
func (c *Client) Source() contracts.SourceID {
	return contracts.SourceEquity
}

// Fetch yields one record per symbol and trading day on or after since
func (c *Client) Fetch(ctx context.Context, since time.Time) iter.Seq2[contracts.RawRecord, error] {
	sinceDay := contracts.TruncateDay(since)

	return func(yield func(contracts.RawRecord, error) bool) {
		for _, symbol := range c.cfg.Symbols {
			bars, err := c.FetchDaily(ctx, symbol)
			if err != nil {
				yield(contracts.RawRecord{}, err)
				return
			}

			fetchAt := c.now().UTC()
			emitted := 0
			for _, bar := range bars {
				if bar.Date.Before(sinceDay) {
					continue
				}
				emitted++
				if !yield(bar.record(symbol, fetchAt), nil) {
					return
				}
			}

			c.logger.WithFields(map[string]interface{}{
				"symbol": symbol,
				"bars":   emitted,
			}).Debug("Fetched daily series")
		}
	}
}

// FetchDaily fetches the compact daily series of one symbol, oldest first
func (c *Client) FetchDaily(ctx context.Context, symbol string) ([]DailyBar, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, external.Classify(contracts.SourceEquity, err)
	}

	params := url.Values{}
	params.Set("function", "TIME_SERIES_DAILY")
	params.Set("symbol", symbol)
	params.Set("outputsize", "compact")
	params.Set("apikey", c.cfg.APIKey)
	fullURL := fmt.Sprintf("%s/query?%s", strings.TrimRight(c.cfg.BaseURL, "/"), params.Encode())

	var resp dailyResponse
	if err := c.httpClient.GetJSON(ctx, fullURL, &resp); err != nil {
		return nil, external.Classify(contracts.SourceEquity, err)
	}

	bars, err := resp.bars(symbol)
	if err != nil {
		return nil, err
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// dailyResponse is the TIME_SERIES_DAILY body.
// Throttled calls come back as 200 with only Note or Information set.
type dailyResponse struct {
	MetaData     map[string]string   `json:"Meta Data"`
	Series       map[string]dailyRaw `json:"Time Series (Daily)"`
	Note         string              `json:"Note"`
	Information  string              `json:"Information"`
	ErrorMessage string              `json:"Error Message"`
}

type dailyRaw struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// DailyBar is one parsed trading day. Values stay as returned.
type DailyBar struct {
	Date   time.Time
	Open   string
	High   string
	Low    string
	Close  string
	Volume string
}

func (r dailyResponse) bars(symbol string) ([]DailyBar, error) {
	switch {
	case r.Note != "":
		return nil, contracts.Unavailable(contracts.SourceEquity, fmt.Errorf("%s: %s", symbol, r.Note))
	case r.Information != "":
		return nil, contracts.Unavailable(contracts.SourceEquity, fmt.Errorf("%s: %s", symbol, r.Information))
	case r.ErrorMessage != "":
		return nil, contracts.SchemaChanged(contracts.SourceEquity, fmt.Errorf("%s: %s", symbol, r.ErrorMessage))
	case r.Series == nil:
		return nil, contracts.SchemaChanged(contracts.SourceEquity, errors.New(symbol+": response has no daily series"))
	}

	bars := make([]DailyBar, 0, len(r.Series))
	for day, raw := range r.Series {
		date, err := time.Parse(time.DateOnly, day)
		if err != nil {
			return nil, contracts.SchemaChanged(contracts.SourceEquity, fmt.Errorf("%s: bad series date %q", symbol, day))
		}
		bars = append(bars, DailyBar{
			Date:   date,
			Open:   raw.Open,
			High:   raw.High,
			Low:    raw.Low,
			Close:  raw.Close,
			Volume: raw.Volume,
		})
	}
	return bars, nil
}

func (b DailyBar) record(symbol string, fetchAt time.Time) contracts.RawRecord {
	return contracts.RawRecord{
		Source:     contracts.SourceEquity,
		Symbol:     symbol,
		ObservedAt: b.Date,
		FetchAt:    fetchAt,
		Payload: map[string]string{
			contracts.FieldOpen:   b.Open,
			contracts.FieldHigh:   b.High,
			contracts.FieldLow:    b.Low,
			contracts.FieldPrice:  b.Close,
			contracts.FieldVolume: b.Volume,
		},
	}
}
