package pipelineconfig

import "time"

// Config는 ETL 파이프라인의 전체 설정
type Config struct {
	Equities  Equities  `yaml:"equities" json:"equities"`
	Crypto    Crypto    `yaml:"crypto" json:"crypto"`
	News      News      `yaml:"news" json:"news"`
	Portfolio Portfolio `yaml:"portfolio" json:"portfolio"`
	Quality   Quality   `yaml:"quality" json:"quality"`
	Analytics Analytics `yaml:"analytics" json:"analytics"`
	Retry     Retry     `yaml:"retry" json:"retry"`
	Schedule  Schedule  `yaml:"schedule" json:"schedule"`
}

// Equities EQUITY 소스
type Equities struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Symbols []string `yaml:"symbols" json:"symbols"`
}

// Crypto CRYPTO 소스
type Crypto struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Coins   []Coin `yaml:"coins" json:"coins"`
}

// Coin maps a CoinGecko id onto the symbol used in analytics rows
type Coin struct {
	ID     string `yaml:"id" json:"id"`
	Symbol string `yaml:"symbol" json:"symbol"`
}

// News NEWS 소스
type News struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	Symbols        []string `yaml:"symbols" json:"symbols"` // empty = equities.symbols
	MaxHeadlines   int      `yaml:"max_headlines" json:"max_headlines"`
	MinTitleLength int      `yaml:"min_title_length" json:"min_title_length"`
	IncludeMarket  bool     `yaml:"include_market" json:"include_market"`
}

// Portfolio PORTFOLIO 소스
type Portfolio struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Quality 품질 게이트 규칙
type Quality struct {
	StalenessWindow time.Duration `yaml:"staleness_window" json:"staleness_window"`
	RejectFlags     []string      `yaml:"reject_flags" json:"reject_flags"`
	TradingCalendar string        `yaml:"trading_calendar" json:"trading_calendar"` // ISO 10383 MIC, empty = calendar days
}

// Analytics 변환 파라미터
type Analytics struct {
	HistoryDays  int                `yaml:"history_days" json:"history_days"`
	MarketSymbol string             `yaml:"market_symbol" json:"market_symbol"`
	BullishTerms map[string]float64 `yaml:"bullish_terms" json:"bullish_terms"`
	BearishTerms map[string]float64 `yaml:"bearish_terms" json:"bearish_terms"`
	Keywords     []string           `yaml:"keywords" json:"keywords"` // NEWS topic tags
}

// Retry Run Coordinator 재시도 정책
type Retry struct {
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay"`
}

// Schedule 스케줄 및 수집 구간
type Schedule struct {
	Cron            string        `yaml:"cron" json:"cron"`
	ExtractLookback time.Duration `yaml:"extract_lookback" json:"extract_lookback"`
	RunTimeout      time.Duration `yaml:"run_timeout" json:"run_timeout"`
}
