// Package ledger tracks cash balances for participants and custody
// accounts. It is the stand-in for the external transferable-value token:
// every custody move the batch queue performs goes through here.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/calder-hwy/poolhouse/internal/domain"
)

// Ledger handles account balance operations. All mutations are
// all-or-nothing: a transfer either debits and credits both sides or
// leaves the ledger untouched.
type Ledger struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// New creates a new ledger
func New(db *sql.DB, log zerolog.Logger) *Ledger {
	return &Ledger{
		db:  db,
		log: log.With().Str("component", "ledger").Logger(),
	}
}

// BalanceOf returns the current balance of an account. Unknown accounts
// have a zero balance.
func (l *Ledger) BalanceOf(account string) (int64, error) {
	var balance int64
	err := l.db.QueryRow("SELECT balance FROM ledger_accounts WHERE account = ?", account).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query balance: %w", err)
	}
	return balance, nil
}

// Credit adds value to an account, creating it if needed
func (l *Ledger) Credit(account string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit of %d: %w", amount, domain.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.creditLocked(l.db, account, amount)
}

// Debit removes value from an account
func (l *Ledger) Debit(account string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("debit of %d: %w", amount, domain.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin debit: %w", err)
	}
	defer tx.Rollback()

	if err := l.debitLocked(tx, account, amount); err != nil {
		return err
	}

	return tx.Commit()
}

// Transfer moves value between accounts atomically
func (l *Ledger) Transfer(from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer of %d: %w", amount, domain.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transfer: %w", err)
	}
	defer tx.Rollback()

	if err := l.debitLocked(tx, from, amount); err != nil {
		return err
	}
	if err := l.creditLocked(tx, to, amount); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}

	l.log.Debug().
		Str("from", from).
		Str("to", to).
		Int64("amount", amount).
		Msg("Transfer completed")

	return nil
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

func (l *Ledger) creditLocked(e execer, account string, amount int64) error {
	_, err := e.Exec(`
		INSERT INTO ledger_accounts (account, balance, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			balance = balance + excluded.balance,
			updated_at = excluded.updated_at
	`, account, amount, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to credit %s: %w", account, err)
	}
	return nil
}

func (l *Ledger) debitLocked(e execer, account string, amount int64) error {
	var balance int64
	err := e.QueryRow("SELECT balance FROM ledger_accounts WHERE account = ?", account).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("account %s holds 0, needs %d: %w", account, amount, domain.ErrInsufficientBalance)
	}
	if err != nil {
		return fmt.Errorf("failed to query balance for debit: %w", err)
	}

	if balance < amount {
		return fmt.Errorf("account %s holds %d, needs %d: %w", account, balance, amount, domain.ErrInsufficientBalance)
	}

	_, err = e.Exec(`
		UPDATE ledger_accounts SET balance = balance - ?, updated_at = ? WHERE account = ?
	`, amount, time.Now().Unix(), account)
	if err != nil {
		return fmt.Errorf("failed to debit %s: %w", account, err)
	}
	return nil
}
