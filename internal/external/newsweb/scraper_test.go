package newsweb

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/config"
	"github.com/wonny/finpipe/pkg/httputil"
	"github.com/wonny/finpipe/pkg/logger"
)

const yahooPage = `<html><body>
<section data-test="news-stream">
  <h3 class="Mb(5px)"><a href="/news/acme-beats-earnings-estimates-123.html">ACME beats earnings estimates on strong demand</a></h3>
  <h3 class="Mb(5px)"><a href="/news/short.html">Too short</a></h3>
  <h3 class="Mb(5px)"><a href="https://example.com/acme-upgrade">Analysts upgrade ACME after record quarter</a></h3>
  <h3 class="Mb(5px)"><a href="/news/acme-beats-earnings-estimates-123.html">ACME beats earnings estimates on strong demand</a></h3>
</section>
</body></html>`

const finvizPage = `<html><body>
<table class="fullview-news-outer">
  <tr><td>Mar-04-24 09:30AM</td><td><a href="https://news.example.com/a">ACME shares plunge after lawsuit filed</a></td></tr>
  <tr><td>08:15AM</td><td><a href="https://news.example.com/b">ACME announces a new buyback program today</a></td></tr>
  <tr><td>Feb-20-24 04:00PM</td><td><a href="https://news.example.com/c">Old ACME story that predates the window</a></td></tr>
</table>
</body></html>`

var fixedNow = time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC)

type fakeSite struct {
	status int
	body   string
}

func newTestScraper(t *testing.T, pages map[string]fakeSite, cfg Config) *Scraper {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		page, ok := pages[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if page.status != 0 {
			w.WriteHeader(page.status)
		}
		w.Write([]byte(page.body))
	}))
	t.Cleanup(server.Close)

	cfg.Sites = []Site{
		{Name: "Yahoo Finance", URLTemplate: server.URL + "/yahoo/%s", Selectors: []string{`h3[class~="Mb(5px)"]`, "a.subtle-link"}},
		{Name: "MarketWatch", URLTemplate: server.URL + "/mw/%s", LowerSymbol: true, Selectors: []string{"a.link"}},
		{Name: "Finviz", URLTemplate: server.URL + "/finviz/%s", Selectors: []string{"table.fullview-news-outer tr a"},
			DateLayout: "Jan-02-06 03:04PM", TimeLayout: "03:04PM", Location: time.UTC},
	}
	cfg.Market = Site{Name: "Market", URLTemplate: server.URL + "/market", Selectors: []string{`h3[class~="Mb(5px)"]`}}

	c := &config.Config{Env: "development", LogLevel: "error"}
	log := logger.NewWithWriter(c, io.Discard)
	scraper := NewScraper(httputil.New(c, log).DisableRetry(), cfg, log)
	scraper.now = func() time.Time { return fixedNow }
	return scraper
}

func collect(s *Scraper, since time.Time) ([]contracts.RawRecord, error) {
	var out []contracts.RawRecord
	for rec, err := range s.Fetch(context.Background(), since) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func TestFetch_FirstSiteWins(t *testing.T) {
	scraper := newTestScraper(t, map[string]fakeSite{
		"/yahoo/ACME":  {body: yahooPage},
		"/finviz/ACME": {body: finvizPage},
	}, Config{Symbols: []string{"ACME"}})

	records, err := collect(scraper, fixedNow.Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 2, "short titles and repeated links are dropped")

	first := records[0]
	assert.Equal(t, contracts.SourceNews, first.Source)
	assert.Equal(t, "ACME", first.Symbol)
	assert.Equal(t, "ACME beats earnings estimates on strong demand", first.Payload[contracts.FieldHeadline])
	assert.True(t, strings.HasSuffix(first.Payload[contracts.FieldURL], "/news/acme-beats-earnings-estimates-123.html"))
	assert.True(t, strings.HasPrefix(first.Payload[contracts.FieldURL], "http://"), "relative link resolved against the page")
	assert.Equal(t, "Yahoo Finance", first.Payload[contracts.FieldPublisher])
	assert.Equal(t, fixedNow, first.ObservedAt, "undated headlines use the scrape time")

	assert.Equal(t, "https://example.com/acme-upgrade", records[1].Payload[contracts.FieldURL])
}

func TestFetch_FallsBackToFinvizWithDates(t *testing.T) {
	scraper := newTestScraper(t, map[string]fakeSite{
		"/yahoo/ACME":  {status: http.StatusServiceUnavailable},
		"/mw/acme":     {body: `<html><body><p>nothing here</p></body></html>`},
		"/finviz/ACME": {body: finvizPage},
	}, Config{Symbols: []string{"ACME"}})

	records, err := collect(scraper, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, records, 2, "the February story is older than since")

	assert.Equal(t, "Finviz", records[0].Payload[contracts.FieldPublisher])
	assert.Equal(t, time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC), records[0].ObservedAt)
	assert.Equal(t, time.Date(2024, 3, 4, 8, 15, 0, 0, time.UTC), records[1].ObservedAt, "time-only rows inherit the previous day")
}

func TestFetch_MarketPageHasNoSymbol(t *testing.T) {
	scraper := newTestScraper(t, map[string]fakeSite{
		"/market": {body: yahooPage},
	}, Config{IncludeMarket: true, MaxHeadlines: 1})

	records, err := collect(scraper, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].Symbol)
}

func TestFetch_AllSitesFailing(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "outage", status: http.StatusBadGateway, want: contracts.ErrSourceUnavailable},
		{name: "blocked", status: http.StatusForbidden, want: contracts.ErrSourceSchemaChanged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scraper := newTestScraper(t, map[string]fakeSite{
				"/yahoo/ACME":  {status: tt.status},
				"/mw/acme":     {status: tt.status},
				"/finviz/ACME": {status: tt.status},
			}, Config{Symbols: []string{"ACME"}})

			_, err := collect(scraper, time.Time{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetch_EmptyPagesAreNotErrors(t *testing.T) {
	empty := fakeSite{body: `<html><body></body></html>`}
	scraper := newTestScraper(t, map[string]fakeSite{
		"/yahoo/ACME":  empty,
		"/mw/acme":     empty,
		"/finviz/ACME": empty,
	}, Config{Symbols: []string{"ACME"}})

	records, err := collect(scraper, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSiteURL(t *testing.T) {
	sites := DefaultSites()

	assert.Equal(t, "https://finance.yahoo.com/quote/AAPL", sites[0].URL("AAPL"))
	assert.Equal(t, "https://www.marketwatch.com/investing/stock/aapl", sites[1].URL("AAPL"))
	assert.Equal(t, "https://finviz.com/quote.ashx?t=AAPL", sites[2].URL("AAPL"))
	assert.Equal(t, "https://finance.yahoo.com/topic/stock-market-news/", MarketSite().URL(""))
}
