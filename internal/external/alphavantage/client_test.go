package alphavantage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/config"
	"github.com/wonny/finpipe/pkg/httputil"
	"github.com/wonny/finpipe/pkg/logger"
)

const dailyBody = `{
  "Meta Data": {"2. Symbol": "ACME"},
  "Time Series (Daily)": {
    "2024-03-04": {"1. open": "101.0", "2. high": "103.5", "3. low": "100.2", "4. close": "103.0", "5. volume": "120000"},
    "2024-03-01": {"1. open": "99.0", "2. high": "101.0", "3. low": "98.5", "4. close": "100.5", "5. volume": "90000"},
    "2024-02-28": {"1. open": "98.0", "2. high": "99.0", "3. low": "97.0", "4. close": "98.7", "5. volume": "80000"}
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, symbols ...string) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.Config{Env: "development", LogLevel: "error"}
	log := logger.NewWithWriter(cfg, io.Discard)
	client := NewClient(httputil.New(cfg, log).DisableRetry(), Config{
		APIKey:  "demo",
		BaseURL: server.URL,
		Symbols: symbols,
	}, log).WithLimiter(rate.NewLimiter(rate.Inf, 1))
	client.now = func() time.Time { return time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC) }
	return client
}

func collect(t *testing.T, c *Client, since time.Time) ([]contracts.RawRecord, error) {
	t.Helper()
	var out []contracts.RawRecord
	for rec, err := range c.Fetch(context.Background(), since) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func TestFetch_FiltersAndOrders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		assert.Equal(t, "TIME_SERIES_DAILY", r.URL.Query().Get("function"))
		assert.Equal(t, "ACME", r.URL.Query().Get("symbol"))
		assert.Equal(t, "demo", r.URL.Query().Get("apikey"))
		w.Write([]byte(dailyBody))
	}, "ACME")

	records, err := collect(t, client, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, contracts.SourceEquity, first.Source)
	assert.Equal(t, "ACME", first.Symbol)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), first.ObservedAt)
	assert.Equal(t, "100.5", first.Payload[contracts.FieldPrice])
	assert.Equal(t, "90000", first.Payload[contracts.FieldVolume])
	assert.Equal(t, time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC), first.FetchAt)

	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), records[1].ObservedAt)
}

func TestFetch_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "throttle note", status: 200, body: `{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute"}`, want: contracts.ErrSourceUnavailable},
		{name: "information", status: 200, body: `{"Information": "rate limit reached"}`, want: contracts.ErrSourceUnavailable},
		{name: "invalid call", status: 200, body: `{"Error Message": "Invalid API call."}`, want: contracts.ErrSourceSchemaChanged},
		{name: "missing series", status: 200, body: `{"Meta Data": {}}`, want: contracts.ErrSourceSchemaChanged},
		{name: "not json", status: 200, body: `<html>maintenance</html>`, want: contracts.ErrSourceSchemaChanged},
		{name: "server error", status: 503, body: ``, want: contracts.ErrSourceUnavailable},
		{name: "forbidden", status: 403, body: ``, want: contracts.ErrSourceSchemaChanged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, "ACME")

			_, err := collect(t, client, time.Time{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetch_StopsAtFirstFailingSymbol(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("symbol") == "BAD" {
			w.Write([]byte(`{"Error Message": "Invalid API call."}`))
			return
		}
		w.Write([]byte(dailyBody))
	}, "ACME", "BAD", "NEXT")

	records, err := collect(t, client, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, contracts.ErrSourceSchemaChanged)
	assert.Len(t, records, 1, "records of earlier symbols were already yielded")
	assert.Equal(t, 2, calls)
}
