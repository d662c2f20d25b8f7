package ledger

import "database/sql"

// Schema for the participant cash ledger.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_accounts (
    account TEXT PRIMARY KEY,
    balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
    updated_at INTEGER NOT NULL
);
`

// InitSchema ensures the ledger tables exist
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
