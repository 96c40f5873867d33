package pipelineconfig

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/wonny/finpipe/internal/contracts"
)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,14}$`)
	cronParser    = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	// a record without a key or a value cannot become a row
	requiredFlags = []contracts.QualityFlag{contracts.FlagMissingSymbol, contracts.FlagMissingPrice}
)

// Validate checks all required constraints
func Validate(cfg *Config) error {
	// === Sources ===
	if cfg.Equities.Enabled && len(cfg.Equities.Symbols) == 0 {
		return ValidationError{"equities.symbols", "required when equities.enabled"}
	}
	for _, s := range cfg.Equities.Symbols {
		if !symbolPattern.MatchString(s) {
			return ValidationError{"equities.symbols", fmt.Sprintf("invalid symbol %q", s)}
		}
	}
	if cfg.Crypto.Enabled && len(cfg.Crypto.Coins) == 0 {
		return ValidationError{"crypto.coins", "required when crypto.enabled"}
	}
	seen := map[string]bool{}
	for _, c := range cfg.Crypto.Coins {
		if c.ID == "" || !symbolPattern.MatchString(c.Symbol) {
			return ValidationError{"crypto.coins", fmt.Sprintf("invalid coin %q/%q", c.ID, c.Symbol)}
		}
		if seen[c.Symbol] {
			return ValidationError{"crypto.coins", fmt.Sprintf("duplicate symbol %q", c.Symbol)}
		}
		seen[c.Symbol] = true
	}
	if cfg.News.MaxHeadlines <= 0 {
		return ValidationError{"news.max_headlines", "must be > 0"}
	}

	// === Quality ===
	if cfg.Quality.StalenessWindow <= 0 {
		return ValidationError{"quality.staleness_window", "must be > 0"}
	}
	for _, f := range cfg.Quality.RejectFlags {
		if !contracts.QualityFlag(f).Valid() {
			return ValidationError{"quality.reject_flags", fmt.Sprintf("unknown flag %q", f)}
		}
	}
	for _, f := range requiredFlags {
		if !slices.Contains(cfg.Quality.RejectFlags, string(f)) {
			return ValidationError{"quality.reject_flags", fmt.Sprintf("must include %s", f)}
		}
	}

	// === Analytics ===
	if cfg.Analytics.HistoryDays < 30 {
		return ValidationError{"analytics.history_days", "must cover the 30-day window"}
	}
	if cfg.Analytics.MarketSymbol == "" {
		return ValidationError{"analytics.market_symbol", "required"}
	}
	for term, w := range cfg.Analytics.BullishTerms {
		if w <= 0 || term != strings.ToLower(term) {
			return ValidationError{"analytics.bullish_terms", fmt.Sprintf("term %q must be lowercase with positive weight", term)}
		}
	}
	for term, w := range cfg.Analytics.BearishTerms {
		if w <= 0 || term != strings.ToLower(term) {
			return ValidationError{"analytics.bearish_terms", fmt.Sprintf("term %q must be lowercase with positive weight", term)}
		}
	}

	for _, k := range cfg.Analytics.Keywords {
		if k == "" || k != strings.ToLower(strings.TrimSpace(k)) {
			return ValidationError{"analytics.keywords", fmt.Sprintf("keyword %q must be lowercase and trimmed", k)}
		}
	}

	// === Retry ===
	if cfg.Retry.MaxRetries < 0 {
		return ValidationError{"retry.max_retries", "must be >= 0"}
	}
	if cfg.Retry.BaseDelay < 0 || cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return ValidationError{"retry", "need 0 <= base_delay <= max_delay"}
	}

	// === Schedule ===
	if _, err := cronParser.Parse(cfg.Schedule.Cron); err != nil {
		return ValidationError{"schedule.cron", err.Error()}
	}
	if cfg.Schedule.ExtractLookback <= 0 {
		return ValidationError{"schedule.extract_lookback", "must be > 0"}
	}

	return nil
}
