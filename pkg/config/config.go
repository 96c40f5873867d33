package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database (PostgreSQL warehouse)
	Database DatabaseConfig

	// Warehouse backend selection
	Warehouse WarehouseConfig

	// Portfolio holdings store
	Portfolio PortfolioConfig

	// Redis
	Redis RedisConfig

	// External APIs
	AlphaVantage AlphaVantageConfig
	CoinGecko    CoinGeckoConfig
	News         NewsConfig

	// Notifications
	Notify NotifyConfig

	// Pipeline YAML (symbols, rules, lexicon, retry policy)
	PipelineConfigPath string

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// WarehouseConfig selects the analytics store
type WarehouseConfig struct {
	Driver     string // postgres, sqlite, memory
	SQLitePath string
}

// PortfolioConfig holds the holdings database connection
type PortfolioConfig struct {
	DatabaseURL string // empty = reuse Database.URL
	UserID      string // empty = all users
	Enabled     bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// AlphaVantageConfig holds Alpha Vantage API configuration
type AlphaVantageConfig struct {
	APIKey            string
	BaseURL           string
	RequestsPerMinute int
}

// CoinGeckoConfig holds CoinGecko API configuration
type CoinGeckoConfig struct {
	APIKey            string // optional demo key
	BaseURL           string
	RequestsPerMinute int
}

// NewsConfig holds headline scraper configuration
type NewsConfig struct {
	UserAgent         string
	RequestsPerSecond float64
}

// NotifyConfig holds run notification targets
type NotifyConfig struct {
	WebhookURL string
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	// Try multiple paths for .env file
	loadEnvFile()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		// Database
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Warehouse: WarehouseConfig{
			Driver:     getEnv("WAREHOUSE_DRIVER", "postgres"),
			SQLitePath: getEnv("SQLITE_PATH", "finpipe.db"),
		},

		Portfolio: PortfolioConfig{
			DatabaseURL: getEnv("PORTFOLIO_DATABASE_URL", ""),
			UserID:      getEnv("PORTFOLIO_USER_ID", ""),
			Enabled:     getEnvAsBool("PORTFOLIO_ENABLED", true),
		},

		// Redis
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		// External APIs
		AlphaVantage: AlphaVantageConfig{
			APIKey:            getEnv("ALPHA_VANTAGE_API_KEY", ""),
			BaseURL:           getEnv("ALPHA_VANTAGE_BASE_URL", "https://www.alphavantage.co"),
			RequestsPerMinute: getEnvAsInt("ALPHA_VANTAGE_RPM", 5),
		},

		CoinGecko: CoinGeckoConfig{
			APIKey:            getEnv("COINGECKO_API_KEY", ""),
			BaseURL:           getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
			RequestsPerMinute: getEnvAsInt("COINGECKO_RPM", 30),
		},

		News: NewsConfig{
			UserAgent:         getEnv("NEWS_USER_AGENT", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"),
			RequestsPerSecond: getEnvAsFloat("NEWS_RPS", 1),
		},

		Notify: NotifyConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},

		PipelineConfigPath: getEnv("PIPELINE_CONFIG", "configs/pipeline.yaml"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// PortfolioURL returns the DSN of the holdings store
func (c *Config) PortfolioURL() string {
	if c.Portfolio.DatabaseURL != "" {
		return c.Portfolio.DatabaseURL
	}
	return c.Database.URL
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	switch c.Warehouse.Driver {
	case "postgres":
		// Database URL is required for the postgres warehouse
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when WAREHOUSE_DRIVER=postgres")
		}
	case "sqlite":
		if c.Warehouse.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when WAREHOUSE_DRIVER=sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("WAREHOUSE_DRIVER must be one of: postgres, sqlite, memory")
	}

	// Validate environment
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.AlphaVantage.RequestsPerMinute <= 0 || c.CoinGecko.RequestsPerMinute <= 0 {
		return fmt.Errorf("API request rates must be positive")
	}
	if c.News.RequestsPerSecond <= 0 {
		return fmt.Errorf("NEWS_RPS must be positive")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	// Try paths in order of priority
	paths := []string{
		".env", // Current directory
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
