package service

const schema = `
CREATE TABLE IF NOT EXISTS strategies (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	type       TEXT NOT NULL,
	mode       TEXT NOT NULL,
	config     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS bots (
	id                 TEXT PRIMARY KEY,
	strategy_id        TEXT NOT NULL REFERENCES strategies (id),
	status             TEXT NOT NULL,
	mode               TEXT NOT NULL,
	error_count        INT NOT NULL DEFAULT 0,
	consecutive_errors INT NOT NULL DEFAULT 0,
	last_error         TEXT NOT NULL DEFAULT '',
	performance        JSONB NOT NULL,
	positions          JSONB NOT NULL,
	started_at         TIMESTAMPTZ NOT NULL,
	last_trade_at      TIMESTAMPTZ,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	position_id TEXT NOT NULL,
	bot_id      TEXT NOT NULL,
	strategy_id TEXT NOT NULL,
	instrument  TEXT NOT NULL,
	side        TEXT NOT NULL,
	mode        TEXT NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	exit_price  DOUBLE PRECISION NOT NULL,
	size        DOUBLE PRECISION NOT NULL,
	pnl         DOUBLE PRECISION NOT NULL,
	pnl_percent DOUBLE PRECISION NOT NULL,
	hold_ms     BIGINT NOT NULL,
	reason      TEXT NOT NULL,
	opened_at   TIMESTAMPTZ NOT NULL,
	closed_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS trades_bot_id_closed_at ON trades (bot_id, closed_at);
`

const upsertStrategy = `
INSERT INTO strategies (id, name, type, mode, config, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	mode = EXCLUDED.mode,
	config = EXCLUDED.config,
	updated_at = EXCLUDED.updated_at`

const upsertBot = `
INSERT INTO bots (id, strategy_id, status, mode, error_count, consecutive_errors, last_error,
	performance, positions, started_at, last_trade_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	error_count = EXCLUDED.error_count,
	consecutive_errors = EXCLUDED.consecutive_errors,
	last_error = EXCLUDED.last_error,
	performance = EXCLUDED.performance,
	positions = EXCLUDED.positions,
	last_trade_at = EXCLUDED.last_trade_at,
	updated_at = now()`

const insertTrade = `
INSERT INTO trades (id, position_id, bot_id, strategy_id, instrument, side, mode,
	entry_price, exit_price, size, pnl, pnl_percent, hold_ms, reason, opened_at, closed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO NOTHING`
