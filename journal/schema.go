package journal

const Schema = `
CREATE TABLE IF NOT EXISTS saga_events (
	id TEXT PRIMARY KEY,
	saga_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	state TEXT NOT NULL,
	process_id TEXT NOT NULL,
	trader_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	position_id TEXT NOT NULL,
	asset_pair TEXT NOT NULL,
	amount TEXT NOT NULL,
	error TEXT NOT NULL,
	time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_saga_events_saga ON saga_events(saga_id);
CREATE INDEX IF NOT EXISTS idx_saga_events_state_time ON saga_events(state, time);
`

// PostgresSchema is Schema with postgres column types.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS saga_events (
	id TEXT PRIMARY KEY,
	saga_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	state TEXT NOT NULL,
	process_id TEXT NOT NULL,
	trader_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	position_id TEXT NOT NULL,
	asset_pair TEXT NOT NULL,
	amount TEXT NOT NULL,
	error TEXT NOT NULL,
	time TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_saga_events_saga ON saga_events(saga_id);
CREATE INDEX IF NOT EXISTS idx_saga_events_state_time ON saga_events(state, time);
`

const sagaColumns = `id, saga_id, operation, state, process_id, trader_id, account_id, position_id, asset_pair, amount, error, time`
