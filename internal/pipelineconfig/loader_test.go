package pipelineconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RepositoryConfig(t *testing.T) {
	path := "../../configs/pipeline.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Skip("config file not found")
	}

	cfg, data, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	assert.Equal(t, []string{"AAPL", "GOOGL", "MSFT", "TSLA", "AMZN"}, cfg.Equities.Symbols)
	assert.Equal(t, cfg.Equities.Symbols, cfg.News.Symbols, "news symbols default to equities")
	assert.Equal(t, 96*time.Hour, cfg.Quality.StalenessWindow)
	assert.Equal(t, "xnys", cfg.Quality.TradingCalendar)
	assert.Equal(t, 5*time.Minute, cfg.Retry.BaseDelay)
	assert.Equal(t, 2.0, cfg.Analytics.BullishTerms["bullish"])
	assert.Contains(t, cfg.Analytics.Keywords, "merger")

	hash, err := Hash(cfg)
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	hash2, _ := Hash(cfg)
	assert.Equal(t, hash, hash2, "hash must be deterministic")
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
equities:
  symbols: [ACME]
crypto:
  enabled: false
  coins: []
analytics:
  bullish_terms: {moon: 3}
retry:
  max_retries: 1
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"ACME"}, cfg.Equities.Symbols)
	assert.Equal(t, []string{"ACME"}, cfg.News.Symbols)
	assert.False(t, cfg.Crypto.Enabled)
	assert.Equal(t, map[string]float64{"moon": 3}, cfg.Analytics.BullishTerms, "a configured lexicon replaces the default")
	assert.Equal(t, DefaultBearishTerms(), cfg.Analytics.BearishTerms)
	assert.Equal(t, 1, cfg.Retry.MaxRetries)
	assert.Equal(t, 30*time.Minute, cfg.Retry.MaxDelay)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown field", yaml: "equities:\n  tickers: [AAPL]\n"},
		{name: "lowercase symbol", yaml: "equities:\n  symbols: [aapl]\n"},
		{name: "unknown flag", yaml: "quality:\n  reject_flags: [SUSPICIOUS]\n"},
		{name: "symbol-less records admitted", yaml: "quality:\n  reject_flags: [MISSING_PRICE, DUPLICATE, OUT_OF_RANGE]\n"},
		{name: "price-less records admitted", yaml: "quality:\n  reject_flags: [MISSING_SYMBOL, DUPLICATE]\n"},
		{name: "empty reject set", yaml: "quality:\n  reject_flags: []\n"},
		{name: "bad cron", yaml: "schedule:\n  cron: \"every morning\"\n"},
		{name: "short history", yaml: "analytics:\n  history_days: 7\n"},
		{name: "negative weight", yaml: "analytics:\n  bearish_terms: {crash: -1}\n"},
		{name: "uppercase keyword", yaml: "analytics:\n  keywords: [Earnings]\n"},
		{name: "duplicate coin symbol", yaml: "crypto:\n  coins:\n    - {id: bitcoin, symbol: BTC}\n    - {id: wrapped-bitcoin, symbol: BTC}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_RejectFlags(t *testing.T) {
	cfg, err := Parse([]byte("quality:\n  reject_flags: [MISSING_SYMBOL, MISSING_PRICE, STALE]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"MISSING_SYMBOL", "MISSING_PRICE", "STALE"}, cfg.Quality.RejectFlags)
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0 0 6 * * *", cfg.Schedule.Cron)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.NotEmpty(t, cfg.Analytics.BullishTerms)
}
