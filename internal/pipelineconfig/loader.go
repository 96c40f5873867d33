package pipelineconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns the built-in pipeline configuration
func Default() *Config {
	return &Config{
		Equities: Equities{
			Enabled: true,
			Symbols: []string{"AAPL", "GOOGL", "MSFT", "TSLA", "AMZN"},
		},
		Crypto: Crypto{
			Enabled: true,
			Coins: []Coin{
				{ID: "bitcoin", Symbol: "BTC"},
				{ID: "ethereum", Symbol: "ETH"},
				{ID: "cardano", Symbol: "ADA"},
				{ID: "polkadot", Symbol: "DOT"},
				{ID: "chainlink", Symbol: "LINK"},
			},
		},
		News: News{
			Enabled:        true,
			MaxHeadlines:   10,
			MinTitleLength: 20,
			IncludeMarket:  true,
		},
		Portfolio: Portfolio{Enabled: true},
		Quality: Quality{
			StalenessWindow: 96 * time.Hour,
			RejectFlags:     []string{"MISSING_SYMBOL", "MISSING_PRICE", "DUPLICATE", "OUT_OF_RANGE"},
		},
		Analytics: Analytics{
			HistoryDays:  60,
			MarketSymbol: "MARKET",
			Keywords: []string{
				"earnings", "merger", "acquisition", "revenue", "profit",
				"loss", "growth", "decline", "bullish", "bearish",
			},
		},
		Retry: Retry{
			MaxRetries: 3,
			BaseDelay:  5 * time.Minute,
			MaxDelay:   30 * time.Minute,
		},
		Schedule: Schedule{
			Cron:            "0 0 6 * * *",
			ExtractLookback: 72 * time.Hour,
			RunTimeout:      2 * time.Hour,
		},
	}
}

// DefaultBullishTerms is the built-in positive lexicon
func DefaultBullishTerms() map[string]float64 {
	return map[string]float64{
		"bullish": 2, "surge": 1.5, "surges": 1.5, "soar": 1.5, "soars": 1.5,
		"rally": 1, "rallies": 1, "beat": 1, "beats": 1, "growth": 1,
		"profit": 1, "profits": 1, "upgrade": 1.5, "upgraded": 1.5, "record": 0.5,
		"gain": 1, "gains": 1, "jumps": 1, "rises": 0.5, "acquisition": 0.5, "merger": 0.5,
	}
}

// DefaultBearishTerms is the built-in negative lexicon
func DefaultBearishTerms() map[string]float64 {
	return map[string]float64{
		"bearish": 2, "plunge": 1.5, "plunges": 1.5, "slump": 1.5, "slumps": 1.5,
		"decline": 1, "declines": 1, "loss": 1, "losses": 1, "miss": 1, "misses": 1,
		"downgrade": 1.5, "downgraded": 1.5, "lawsuit": 1, "falls": 1, "drop": 1, "drops": 1,
		"layoffs": 1, "recall": 0.5,
	}
}

// Load reads YAML file and returns Config with raw bytes
// SSOT 핵심: KnownFields(true)로 오타/미사용 필드 즉시 실패
func Load(path string) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, data, err
	}

	return cfg, data, nil
}

// LoadOrDefault loads path, falling back to Default when the file does not exist
func LoadOrDefault(path string) (*Config, error) {
	cfg, _, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		cfg.applyDefaults()
		return cfg, Validate(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("load pipeline config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // 알 수 없는 필드 발견 시 에러 반환
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills derived and map-valued settings left empty by the file
func (c *Config) applyDefaults() {
	if len(c.News.Symbols) == 0 {
		c.News.Symbols = append([]string(nil), c.Equities.Symbols...)
	}
	if c.Analytics.BullishTerms == nil {
		c.Analytics.BullishTerms = DefaultBullishTerms()
	}
	if c.Analytics.BearishTerms == nil {
		c.Analytics.BearishTerms = DefaultBearishTerms()
	}
}

// Hash generates SHA256 hash from Config (canonical JSON)
// 주의: encoding/json은 map 키를 정렬하므로 해시가 재현 가능
func Hash(cfg *Config) (string, error) {
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}
