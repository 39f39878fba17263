package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NOTE: This repository assumes the following tables exist:
// - wallets (UNIQUE user_id)
// - wallet_ledger (immutable append-only, UNIQUE (wallet_id, idempotency_key))
// - wallet_balances (projection)
// - admin_wallet_actions

// lockOrCreateWallet locks the user's wallet row, creating it on first use.
// The lock serializes concurrent money operations per wallet.
func lockOrCreateWallet(ctx context.Context, tx *sql.Tx, userID string, now time.Time) (Wallet, error) {
	const ins = `
INSERT INTO wallets (id, user_id, currency, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5)
ON CONFLICT (user_id) DO NOTHING
`
	if _, err := tx.ExecContext(ctx, ins, uuid.NewString(), userID, Currency, WalletStatusActive, now); err != nil {
		return Wallet{}, err
	}

	const q = `
SELECT id, user_id, currency, status, created_at, updated_at
FROM wallets
WHERE user_id = $1
FOR UPDATE
`
	var w Wallet
	if err := tx.QueryRowContext(ctx, q, userID).Scan(
		&w.ID,
		&w.UserID,
		&w.Currency,
		&w.Status,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		return Wallet{}, err
	}
	if w.Status != WalletStatusActive {
		return Wallet{}, ErrWalletDisabled
	}
	return w, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getBalance(ctx context.Context, db queryRower, userID string) (Balance, error) {
	const q = `
SELECT w.user_id, w.id, w.currency, COALESCE(b.balance, 0), COALESCE(b.updated_at, w.updated_at)
FROM wallets w
LEFT JOIN wallet_balances b ON b.wallet_id = w.id
WHERE w.user_id = $1
`
	var b Balance
	if err := db.QueryRowContext(ctx, q, userID).Scan(
		&b.UserID,
		&b.WalletID,
		&b.Currency,
		&b.Balance,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No wallet yet is an empty wallet.
			return Balance{UserID: userID, Currency: Currency, Balance: decimal.Zero}, nil
		}
		return Balance{}, err
	}
	return b, nil
}

func findLedgerByIdempotency(ctx context.Context, tx *sql.Tx, walletID, key string) (LedgerEntry, bool, error) {
	const q = `
SELECT id, user_id, wallet_id, type, amount, currency, external_ref, idempotency_key, metadata, created_at
FROM wallet_ledger
WHERE wallet_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e LedgerEntry
	err := tx.QueryRowContext(ctx, q, walletID, key).Scan(
		&e.ID,
		&e.UserID,
		&e.WalletID,
		&e.Type,
		&e.Amount,
		&e.Currency,
		&e.ExternalRef,
		&e.IdempotencyKey,
		&e.Metadata,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LedgerEntry{}, false, nil
		}
		return LedgerEntry{}, false, err
	}
	return e, true, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, e LedgerEntry) error {
	const q = `
INSERT INTO wallet_ledger (
  id, user_id, wallet_id, type, amount, currency, external_ref, idempotency_key, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.UserID,
		e.WalletID,
		e.Type,
		e.Amount,
		e.Currency,
		e.ExternalRef,
		e.IdempotencyKey,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, w Wallet, delta decimal.Decimal, now time.Time) (Balance, error) {
	const q = `
INSERT INTO wallet_balances (wallet_id, currency, balance, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (wallet_id)
DO UPDATE SET balance = wallet_balances.balance + EXCLUDED.balance,
              updated_at = EXCLUDED.updated_at
RETURNING currency, balance, updated_at
`
	b := Balance{UserID: w.UserID, WalletID: w.ID}
	if err := tx.QueryRowContext(ctx, q, w.ID, w.Currency, delta, now).Scan(
		&b.Currency,
		&b.Balance,
		&b.UpdatedAt,
	); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func insertAdminAction(ctx context.Context, tx *sql.Tx, a AdminWalletAction) error {
	const q = `
INSERT INTO admin_wallet_actions (
  id, user_id, wallet_id, admin_user_id, admin_role, action, reason,
  amount, currency, related_ledger_id, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`
	_, err := tx.ExecContext(ctx, q,
		a.ID,
		a.UserID,
		a.WalletID,
		a.AdminUserID,
		a.AdminRole,
		a.Action,
		a.Reason,
		a.Amount,
		a.Currency,
		a.RelatedLedgerID,
		a.Metadata,
		a.CreatedAt,
	)
	return err
}
