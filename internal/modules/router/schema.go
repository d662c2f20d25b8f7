package router

import "database/sql"

// Schema for batch queue state: per-bucket counters plus per-participant
// pending rows. The position column preserves roster order across
// restarts so apportionment stays deterministic.
const Schema = `
CREATE TABLE IF NOT EXISTS router_state (
    bucket TEXT PRIMARY KEY,
    total_pending_deposit INTEGER NOT NULL CHECK (total_pending_deposit >= 0),
    total_pending_withdraw_shares INTEGER NOT NULL CHECK (total_pending_withdraw_shares >= 0),
    last_batch INTEGER NOT NULL,
    batch_interval_seconds INTEGER NOT NULL,
    minimum_deposit INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS router_pending (
    bucket TEXT NOT NULL,
    participant TEXT NOT NULL,
    kind TEXT NOT NULL CHECK (kind IN ('deposit', 'withdraw')),
    amount INTEGER NOT NULL CHECK (amount > 0),
    position INTEGER NOT NULL,
    PRIMARY KEY (bucket, participant, kind)
);
`

// InitSchema ensures the router tables exist
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
