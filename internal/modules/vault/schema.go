package vault

import "database/sql"

// Schema for vault share accounting, allocation targets and harvest
// history. Aggregates (total_shares, idle_balance) are stored alongside
// the per-account rows and cross-checked on load.
const Schema = `
CREATE TABLE IF NOT EXISTS vault_state (
    bucket TEXT PRIMARY KEY,
    total_shares INTEGER NOT NULL CHECK (total_shares >= 0),
    idle_balance INTEGER NOT NULL CHECK (idle_balance >= 0),
    fee_rate_bps INTEGER NOT NULL,
    fee_recipient TEXT NOT NULL,
    last_harvest INTEGER NOT NULL,
    harvest_interval_seconds INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS vault_shares (
    bucket TEXT NOT NULL,
    account TEXT NOT NULL,
    shares INTEGER NOT NULL CHECK (shares >= 0),
    PRIMARY KEY (bucket, account)
);

CREATE TABLE IF NOT EXISTS vault_allocations (
    bucket TEXT NOT NULL,
    strategy_id TEXT NOT NULL,
    weight_bps INTEGER NOT NULL,
    position INTEGER NOT NULL,
    PRIMARY KEY (bucket, strategy_id)
);

CREATE TABLE IF NOT EXISTS vault_harvests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    bucket TEXT NOT NULL,
    harvested_at INTEGER NOT NULL,
    gross INTEGER NOT NULL,
    fee INTEGER NOT NULL,
    reinvested INTEGER NOT NULL,
    breakdown BLOB
);

CREATE INDEX IF NOT EXISTS idx_vault_harvests_bucket ON vault_harvests(bucket, harvested_at);
`

// InitSchema ensures the vault tables exist
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
