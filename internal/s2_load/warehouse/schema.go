package warehouse

// postgresSchema is applied by EnsureSchema. Statements are idempotent.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS analytics_rows (
    symbol          TEXT NOT NULL,
    window_date     DATE NOT NULL,
    category        TEXT NOT NULL CHECK (category IN ('EQUITY', 'CRYPTO', 'NEWS')),
    close           DOUBLE PRECISION,
    volume          DOUBLE PRECISION,
    daily_return    DOUBLE PRECISION,
    ma_7            DOUBLE PRECISION,
    ma_30           DOUBLE PRECISION,
    volatility      DOUBLE PRECISION,
    volatility_30d  DOUBLE PRECISION,
    price_range     DOUBLE PRECISION,
    price_change    DOUBLE PRECISION,
    price_change_pct DOUBLE PRECISION,
    price_tier      TEXT,
    sentiment_label TEXT CHECK (sentiment_label IN ('BULLISH', 'BEARISH', 'NEUTRAL')),
    sentiment_score DOUBLE PRECISION,
    article_count   INTEGER NOT NULL DEFAULT 0,
    keywords        TEXT[],
    load_batch_id   TEXT NOT NULL,
    loaded_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (symbol, window_date, category)
);
ALTER TABLE analytics_rows ADD COLUMN IF NOT EXISTS volatility_30d DOUBLE PRECISION;
ALTER TABLE analytics_rows ADD COLUMN IF NOT EXISTS price_range DOUBLE PRECISION;
ALTER TABLE analytics_rows ADD COLUMN IF NOT EXISTS price_change DOUBLE PRECISION;
ALTER TABLE analytics_rows ADD COLUMN IF NOT EXISTS price_change_pct DOUBLE PRECISION;
ALTER TABLE analytics_rows ADD COLUMN IF NOT EXISTS keywords TEXT[];
CREATE INDEX IF NOT EXISTS idx_analytics_rows_window_date ON analytics_rows (window_date);
CREATE INDEX IF NOT EXISTS idx_analytics_rows_batch ON analytics_rows (load_batch_id);

CREATE TABLE IF NOT EXISTS portfolio_holdings (
    as_of          DATE NOT NULL,
    symbol         TEXT NOT NULL,
    asset_type     TEXT NOT NULL DEFAULT '',
    quantity       NUMERIC(28, 8) NOT NULL,
    purchase_price NUMERIC(28, 8) NOT NULL,
    purchase_date  DATE,
    cost_basis     NUMERIC(28, 8) NOT NULL,
    holding_days   INTEGER NOT NULL DEFAULT 0,
    load_batch_id  TEXT NOT NULL,
    PRIMARY KEY (as_of, symbol)
);

CREATE TABLE IF NOT EXISTS load_batches (
    batch_id           TEXT PRIMARY KEY,
    scheduled_for      TIMESTAMPTZ NOT NULL,
    started_at         TIMESTAMPTZ NOT NULL,
    finished_at        TIMESTAMPTZ,
    attempt_count      INTEGER NOT NULL DEFAULT 0,
    status             TEXT NOT NULL,
    partitions_touched TEXT[] NOT NULL DEFAULT '{}',
    rows_written       INTEGER NOT NULL DEFAULT 0,
    error              TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_load_batches_scheduled ON load_batches (scheduled_for, status);
CREATE INDEX IF NOT EXISTS idx_load_batches_started ON load_batches (started_at);
`

// sqliteSchema mirrors postgresSchema. Dates are TEXT (YYYY-MM-DD),
// timestamps fixed-width RFC 3339 TEXT in UTC, decimals TEXT.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS analytics_rows (
    symbol          TEXT NOT NULL,
    window_date     TEXT NOT NULL,
    category        TEXT NOT NULL CHECK (category IN ('EQUITY', 'CRYPTO', 'NEWS')),
    close           REAL,
    volume          REAL,
    daily_return    REAL,
    ma_7            REAL,
    ma_30           REAL,
    volatility      REAL,
    volatility_30d  REAL,
    price_range     REAL,
    price_change    REAL,
    price_change_pct REAL,
    price_tier      TEXT,
    sentiment_label TEXT CHECK (sentiment_label IN ('BULLISH', 'BEARISH', 'NEUTRAL')),
    sentiment_score REAL,
    article_count   INTEGER NOT NULL DEFAULT 0,
    keywords        TEXT,
    load_batch_id   TEXT NOT NULL,
    loaded_at       TEXT NOT NULL,
    PRIMARY KEY (symbol, window_date, category)
);
CREATE INDEX IF NOT EXISTS idx_analytics_rows_window_date ON analytics_rows (window_date);

CREATE TABLE IF NOT EXISTS portfolio_holdings (
    as_of          TEXT NOT NULL,
    symbol         TEXT NOT NULL,
    asset_type     TEXT NOT NULL DEFAULT '',
    quantity       TEXT NOT NULL,
    purchase_price TEXT NOT NULL,
    purchase_date  TEXT,
    cost_basis     TEXT NOT NULL,
    holding_days   INTEGER NOT NULL DEFAULT 0,
    load_batch_id  TEXT NOT NULL,
    PRIMARY KEY (as_of, symbol)
);

CREATE TABLE IF NOT EXISTS load_batches (
    batch_id           TEXT PRIMARY KEY,
    scheduled_for      TEXT NOT NULL,
    started_at         TEXT NOT NULL,
    finished_at        TEXT,
    attempt_count      INTEGER NOT NULL DEFAULT 0,
    status             TEXT NOT NULL,
    partitions_touched TEXT NOT NULL DEFAULT '[]',
    rows_written       INTEGER NOT NULL DEFAULT 0,
    error              TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_load_batches_started ON load_batches (started_at);
`

// sqliteUpgrades adds columns to files created before they existed.
// SQLite has no ADD COLUMN IF NOT EXISTS; "duplicate column" errors are ignored.
var sqliteUpgrades = []string{
	`ALTER TABLE analytics_rows ADD COLUMN volatility_30d REAL`,
	`ALTER TABLE analytics_rows ADD COLUMN price_range REAL`,
	`ALTER TABLE analytics_rows ADD COLUMN price_change REAL`,
	`ALTER TABLE analytics_rows ADD COLUMN price_change_pct REAL`,
	`ALTER TABLE analytics_rows ADD COLUMN keywords TEXT`,
}

// analyticsColumns is the column order shared by inserts and selects
const analyticsColumns = `symbol, window_date, category, close, volume, daily_return, ma_7, ma_30,
	volatility, volatility_30d, price_range, price_change, price_change_pct, price_tier,
	sentiment_label, sentiment_score, article_count, keywords, load_batch_id`

const upsertAssignments = `
	close = EXCLUDED.close,
	volume = EXCLUDED.volume,
	daily_return = EXCLUDED.daily_return,
	ma_7 = EXCLUDED.ma_7,
	ma_30 = EXCLUDED.ma_30,
	volatility = EXCLUDED.volatility,
	volatility_30d = EXCLUDED.volatility_30d,
	price_range = EXCLUDED.price_range,
	price_change = EXCLUDED.price_change,
	price_change_pct = EXCLUDED.price_change_pct,
	price_tier = EXCLUDED.price_tier,
	sentiment_label = EXCLUDED.sentiment_label,
	sentiment_score = EXCLUDED.sentiment_score,
	article_count = EXCLUDED.article_count,
	keywords = EXCLUDED.keywords,
	load_batch_id = EXCLUDED.load_batch_id,
	loaded_at = EXCLUDED.loaded_at`
