// Package credits keeps each user's credit balance and an append-only
// ledger of every change to it.
package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arcanadesk/tarot/internal/reading"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// InsufficientError reports a balance too low for the requested amount.
type InsufficientError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, required %d", e.Balance, e.Required)
}

func (e *InsufficientError) Unwrap() error { return ErrInsufficientCredits }

// InsufficientCredits exposes the numbers without importing this package.
func (e *InsufficientError) InsufficientCredits() (balance, required int64) {
	return e.Balance, e.Required
}

// Transaction is one ledger entry. Amount is negative for spending.
type Transaction struct {
	ID             string `json:"id"`
	UserID         string `json:"userId"`
	Amount         int64  `json:"amount"`
	BalanceAfter   int64  `json:"balanceAfter"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

// Ledger is the SQL-backed credit store.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger

	// OnChange observes committed movements: kind is "deducted", "granted" or "refunded".
	OnChange func(kind string, amount int64)
}

func NewLedger(db *sql.DB, logger *slog.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// Balance returns the user's balance. Unknown users have zero credits.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	return balance(ctx, l.db, userID)
}

// Check reports whether the user can afford cost.
func (l *Ledger) Check(ctx context.Context, userID string, cost int64) (reading.CreditCheck, error) {
	b, err := l.Balance(ctx, userID)
	if err != nil {
		return reading.CreditCheck{}, err
	}
	return reading.CreditCheck{Sufficient: b >= cost, Balance: b}, nil
}

// Deduct spends amount credits. A repeated call with the same non-empty
// idempotency key is a no-op. The balance never goes negative.
func (l *Ledger) Deduct(ctx context.Context, userID string, amount int64, reason, key string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	applied, after, err := l.apply(ctx, userID, -amount, reason, key)
	if err != nil {
		return err
	}
	if applied {
		l.logger.Info("credits deducted", "user_id", userID, "amount", amount, "balance", after, "reason", reason)
		l.changed("deducted", amount)
	}
	return nil
}

// Grant adds amount credits and returns the new balance.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int64, reason, key string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	applied, after, err := l.apply(ctx, userID, amount, reason, key)
	if err != nil {
		return 0, err
	}
	if applied {
		l.logger.Info("credits granted", "user_id", userID, "amount", amount, "balance", after, "reason", reason)
		l.changed("granted", amount)
	}
	return after, nil
}

// Refund returns credits from a charge whose result was never delivered.
// key must be unique to that charge so the refund is applied once.
func (l *Ledger) Refund(ctx context.Context, userID string, amount int64, reason, key string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	applied, after, err := l.apply(ctx, userID, amount, reason, key)
	if err != nil {
		return err
	}
	if applied {
		l.logger.Info("credits refunded", "user_id", userID, "amount", amount, "balance", after, "reason", reason)
		l.changed("refunded", amount)
	}
	return nil
}

// History lists the user's most recent transactions, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, user_id, amount, balance_after, reason, COALESCE(idempotency_key, ''), created_at
		FROM credit_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	txs := []Transaction{}
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.BalanceAfter, &t.Reason, &t.IdempotencyKey, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// apply moves delta credits in one transaction. It reports whether the
// movement happened now, or had already been recorded under key.
func (l *Ledger) apply(ctx context.Context, userID string, delta int64, reason, key string) (bool, int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if key != "" {
		var after int64
		err := tx.QueryRowContext(ctx, `
			SELECT balance_after FROM credit_transactions WHERE idempotency_key = ?
		`, key).Scan(&after)
		if err == nil {
			return false, after, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return false, 0, fmt.Errorf("checking idempotency key: %w", err)
		}
	}

	var after int64
	if delta > 0 {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO accounts (user_id, balance) VALUES (?, ?)
			ON CONFLICT (user_id) DO UPDATE
			SET balance = balance + excluded.balance,
			    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
			RETURNING balance
		`, userID, delta).Scan(&after)
	} else {
		err = tx.QueryRowContext(ctx, `
			UPDATE accounts
			SET balance = balance + ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
			WHERE user_id = ? AND balance >= ?
			RETURNING balance
		`, delta, userID, -delta).Scan(&after)
		if errors.Is(err, sql.ErrNoRows) {
			have, berr := balance(ctx, tx, userID)
			if berr != nil {
				return false, 0, berr
			}
			return false, 0, &InsufficientError{Balance: have, Required: -delta}
		}
	}
	if err != nil {
		return false, 0, fmt.Errorf("updating balance: %w", err)
	}

	var nullKey sql.NullString
	if key != "" {
		nullKey = sql.NullString{String: key, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (user_id, amount, balance_after, reason, idempotency_key)
		VALUES (?, ?, ?, ?, ?)
	`, userID, delta, after, reason, nullKey); err != nil {
		return false, 0, fmt.Errorf("recording transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("committing transaction: %w", err)
	}
	return true, after, nil
}

func (l *Ledger) changed(kind string, amount int64) {
	if l.OnChange != nil {
		l.OnChange(kind, amount)
	}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func balance(ctx context.Context, q queryer, userID string) (int64, error) {
	var b int64
	err := q.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE user_id = ?`, userID).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying balance: %w", err)
	}
	return b, nil
}
