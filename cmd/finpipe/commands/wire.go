package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/internal/coordinator"
	"github.com/wonny/finpipe/internal/external/alphavantage"
	"github.com/wonny/finpipe/internal/external/coingecko"
	"github.com/wonny/finpipe/internal/external/newsweb"
	"github.com/wonny/finpipe/internal/notify"
	"github.com/wonny/finpipe/internal/pipelineconfig"
	"github.com/wonny/finpipe/internal/s0_data/collector"
	"github.com/wonny/finpipe/internal/s0_data/portfolio"
	"github.com/wonny/finpipe/internal/s0_data/quality"
	"github.com/wonny/finpipe/internal/s1_analytics"
	"github.com/wonny/finpipe/internal/s2_load"
	"github.com/wonny/finpipe/internal/s2_load/warehouse"
	"github.com/wonny/finpipe/pkg/config"
	"github.com/wonny/finpipe/pkg/database"
	"github.com/wonny/finpipe/pkg/httputil"
	"github.com/wonny/finpipe/pkg/logger"
	"github.com/wonny/finpipe/pkg/redis"
)

// runLockTTL outlives the longest run so a crashed process frees its interval
const runLockTTL = 3 * time.Hour

// env is the loaded configuration shared by every command
type env struct {
	cfg      *config.Config
	pipeline *pipelineconfig.Config
	hash     string
	log      *logger.Logger
}

// loadEnv reads .env / environment and the pipeline YAML
func loadEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if pipelineFile != "" {
		cfg.PipelineConfigPath = pipelineFile
	}

	log := logger.New(cfg)

	pcfg, err := pipelineconfig.LoadOrDefault(cfg.PipelineConfigPath)
	if err != nil {
		return nil, err
	}
	hash, err := pipelineconfig.Hash(pcfg)
	if err != nil {
		return nil, fmt.Errorf("hash pipeline config: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"env":       cfg.Env,
		"warehouse": cfg.Warehouse.Driver,
		"pipeline":  cfg.PipelineConfigPath,
		"hash":      hash[:12],
	}).Info("Configuration loaded")

	return &env{cfg: cfg, pipeline: pcfg, hash: hash, log: log}, nil
}

// app is a fully wired pipeline
type app struct {
	*env
	store       warehouse.Store
	redis       *redis.Client
	portfolioDB *database.DB
	hub         *notify.Hub
	coord       *coordinator.Coordinator
}

type wireOptions struct {
	withHub bool // broadcast notifications over WebSocket
}

// wire connects storage, adapters, stages, and notifiers
func wire(ctx context.Context, e *env, opts wireOptions) (*app, error) {
	a := &app{env: e}

	store, err := warehouse.Open(ctx, e.cfg, e.log)
	if err != nil {
		return nil, err
	}
	a.store = store

	a.redis, err = redis.New(e.cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	adapters, err := a.adapters()
	if err != nil {
		a.Close()
		return nil, err
	}

	rejectFlags := make([]contracts.QualityFlag, 0, len(e.pipeline.Quality.RejectFlags))
	for _, f := range e.pipeline.Quality.RejectFlags {
		rejectFlags = append(rejectFlags, contracts.QualityFlag(f))
	}
	gate := quality.NewGate(quality.Config{
		StalenessWindow: e.pipeline.Quality.StalenessWindow,
		RejectFlags:     rejectFlags,
		Calendar:        quality.NewTradingCalendar(e.pipeline.Quality.TradingCalendar),
	}, e.log)

	transformer := s1_analytics.NewTransformer(s1_analytics.Config{
		MarketSymbol:   e.pipeline.Analytics.MarketSymbol,
		TrackedSymbols: e.pipeline.Equities.Symbols,
		BullishTerms:   e.pipeline.Analytics.BullishTerms,
		BearishTerms:   e.pipeline.Analytics.BearishTerms,
		Keywords:       e.pipeline.Analytics.Keywords,
	}, e.log)

	notifiers := notify.Multi{notify.NewLog(e.log)}
	if e.cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(e.cfg.Notify.WebhookURL, httputil.New(e.cfg, e.log)))
	}
	if opts.withHub {
		a.hub = notify.NewHub(e.log)
		notifiers = append(notifiers, a.hub)
	}

	a.coord = coordinator.New(coordinator.Deps{
		Collector:   collector.NewCollector(e.log, adapters...),
		Gate:        gate,
		Transformer: transformer,
		Loader:      s2_load.NewLoader(store, s2_load.Config{}, e.log),
		Warehouse:   store,
		Batches:     store,
		Notifier:    notifiers,
		Registry:    coordinator.NewRedisRegistry(a.redis, runLockTTL, e.log),
	}, coordinator.Config{
		MaxRetries:      e.pipeline.Retry.MaxRetries,
		BaseDelay:       e.pipeline.Retry.BaseDelay,
		MaxDelay:        e.pipeline.Retry.MaxDelay,
		ExtractLookback: e.pipeline.Schedule.ExtractLookback,
		HistoryDays:     e.pipeline.Analytics.HistoryDays,
		RunTimeout:      e.pipeline.Schedule.RunTimeout,
	}, e.log)

	return a, nil
}

// adapters builds the enabled source adapters
func (a *app) adapters() ([]contracts.SourceAdapter, error) {
	cfg, p := a.cfg, a.pipeline
	httpClient := httputil.New(cfg, a.log)

	var shared *redis.RateLimiter
	if a.redis.Enabled() {
		shared = redis.NewRateLimiter(a.redis, "finpipe:ratelimit")
	}

	var out []contracts.SourceAdapter

	if p.Equities.Enabled {
		av := alphavantage.NewClient(httpClient, alphavantage.Config{
			APIKey:            cfg.AlphaVantage.APIKey,
			BaseURL:           cfg.AlphaVantage.BaseURL,
			Symbols:           p.Equities.Symbols,
			RequestsPerMinute: cfg.AlphaVantage.RequestsPerMinute,
		}, a.log)
		if shared != nil {
			av.WithLimiter(shared.For(redis.PerMinute("alphavantage", cfg.AlphaVantage.RequestsPerMinute)))
		}
		out = append(out, av)
	}

	if p.Crypto.Enabled {
		coins := make([]coingecko.Coin, 0, len(p.Crypto.Coins))
		for _, c := range p.Crypto.Coins {
			coins = append(coins, coingecko.Coin{ID: c.ID, Symbol: c.Symbol})
		}
		cg := coingecko.NewClient(httpClient, coingecko.Config{
			APIKey:            cfg.CoinGecko.APIKey,
			BaseURL:           cfg.CoinGecko.BaseURL,
			Coins:             coins,
			RequestsPerMinute: cfg.CoinGecko.RequestsPerMinute,
		}, a.log)
		if shared != nil {
			cg.WithLimiter(shared.For(redis.PerMinute("coingecko", cfg.CoinGecko.RequestsPerMinute)))
		}
		out = append(out, cg)
	}

	if p.News.Enabled {
		out = append(out, newsweb.NewScraper(httpClient, newsweb.Config{
			Symbols:           p.News.Symbols,
			MaxHeadlines:      p.News.MaxHeadlines,
			MinTitleLength:    p.News.MinTitleLength,
			IncludeMarket:     p.News.IncludeMarket,
			UserAgent:         cfg.News.UserAgent,
			RequestsPerSecond: cfg.News.RequestsPerSecond,
		}, a.log))
	}

	if p.Portfolio.Enabled && cfg.Portfolio.Enabled && cfg.PortfolioURL() != "" {
		db, err := database.NewPortfolio(cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to portfolio database: %w", err)
		}
		a.portfolioDB = db
		out = append(out, portfolio.NewSource(db.Pool, cfg.Portfolio.UserID, a.log))
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no source enabled")
	}
	return out, nil
}

// Close releases every connection the app opened
func (a *app) Close() {
	if a.portfolioDB != nil {
		a.portfolioDB.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close warehouse")
		}
	}
}
