package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voice-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service provides wallet operations.
//
// Money invariants:
// - No balance updates without a ledger entry
// - Ledger is append-only (immutable)
// - All money operations must be executed in a DB transaction
//
// Balance strategy:
// - Balance is stored in a projection table (wallet_balances) updated atomically
//   alongside ledger inserts.
type Service struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

type CreditRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	ExternalRef    string          `json:"external_ref,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       string          `json:"metadata,omitempty"`
}

// ChargeRequest debits usage that already happened. It may overdraw the wallet:
// a finished call cannot be refused, so gating happens before dialing instead.
type ChargeRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	ExternalRef    string          `json:"external_ref,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       string          `json:"metadata,omitempty"`
}

type AdminCreditRequest struct {
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       string          `json:"metadata,omitempty"`
}

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrWalletDisabled  = errors.New("wallet disabled")
)

func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return getBalance(ctx, s.db, userID)
}

func (s *Service) Credit(ctx context.Context, userID string, req CreditRequest) (LedgerEntry, Balance, error) {
	if err := validateMoneyReq(userID, req.Amount, req.IdempotencyKey); err != nil {
		return LedgerEntry{}, Balance{}, err
	}
	var (
		entry LedgerEntry
		bal   Balance
	)
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		entry, bal, _, err = s.post(ctx, tx, userID, LedgerEntryTypeCredit, req.Amount, req.ExternalRef, req.IdempotencyKey, req.Metadata)
		return err
	})
	return entry, bal, err
}

// Charge posts a settlement debit. Re-posting the same idempotency key returns the original entry.
func (s *Service) Charge(ctx context.Context, userID string, req ChargeRequest) (LedgerEntry, Balance, error) {
	if err := validateMoneyReq(userID, req.Amount, req.IdempotencyKey); err != nil {
		return LedgerEntry{}, Balance{}, err
	}
	var (
		entry LedgerEntry
		bal   Balance
	)
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		entry, bal, _, err = s.post(ctx, tx, userID, LedgerEntryTypeDebit, req.Amount.Neg(), req.ExternalRef, req.IdempotencyKey, req.Metadata)
		return err
	})
	return entry, bal, err
}

func (s *Service) AdminManualCredit(ctx context.Context, adminUserID, adminRole string, req AdminCreditRequest) (AdminWalletAction, LedgerEntry, Balance, error) {
	if adminUserID == "" || adminRole == "" {
		return AdminWalletAction{}, LedgerEntry{}, Balance{}, ErrInvalidArgument
	}
	if req.Reason == "" {
		return AdminWalletAction{}, LedgerEntry{}, Balance{}, ErrInvalidArgument
	}
	if err := validateMoneyReq(req.UserID, req.Amount, req.IdempotencyKey); err != nil {
		return AdminWalletAction{}, LedgerEntry{}, Balance{}, err
	}

	var (
		action AdminWalletAction
		entry  LedgerEntry
		bal    Balance
	)
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		e, b, created, err := s.post(ctx, tx, req.UserID, LedgerEntryTypeCredit, req.Amount, "admin_manual_credit", req.IdempotencyKey, req.Metadata)
		if err != nil {
			return err
		}
		entry, bal = e, b
		action = AdminWalletAction{
			ID:              uuid.NewString(),
			UserID:          req.UserID,
			WalletID:        e.WalletID,
			AdminUserID:     adminUserID,
			AdminRole:       adminRole,
			Action:          AdminWalletActionTypeAdjustBalance,
			Reason:          req.Reason,
			Amount:          req.Amount,
			Currency:        e.Currency,
			RelatedLedgerID: e.ID,
			Metadata:        req.Metadata,
			CreatedAt:       e.CreatedAt,
		}
		if !created {
			// Replay of an earlier request; the action row already exists.
			return nil
		}
		return insertAdminAction(ctx, tx, action)
	})
	return action, entry, bal, err
}

// post writes one ledger entry and the matching projection delta.
// created is false when the idempotency key was already used.
func (s *Service) post(ctx context.Context, tx *sql.Tx, userID string, typ LedgerEntryType, amount decimal.Decimal, ref, key, metadata string) (LedgerEntry, Balance, bool, error) {
	now := s.clock().UTC()
	w, err := lockOrCreateWallet(ctx, tx, userID, now)
	if err != nil {
		return LedgerEntry{}, Balance{}, false, err
	}

	if existing, ok, err := findLedgerByIdempotency(ctx, tx, w.ID, key); err != nil {
		return LedgerEntry{}, Balance{}, false, err
	} else if ok {
		b, err := getBalance(ctx, tx, userID)
		return existing, b, false, err
	}

	entry := LedgerEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		WalletID:       w.ID,
		Type:           typ,
		Amount:         amount,
		Currency:       w.Currency,
		ExternalRef:    ref,
		IdempotencyKey: key,
		Metadata:       metadata,
		CreatedAt:      now,
	}
	if err := insertLedger(ctx, tx, entry); err != nil {
		return LedgerEntry{}, Balance{}, false, err
	}
	b, err := applyBalanceDelta(ctx, tx, w, amount, now)
	if err != nil {
		return LedgerEntry{}, Balance{}, false, err
	}
	return entry, b, true, nil
}

func validateMoneyReq(userID string, amount decimal.Decimal, idempotencyKey string) error {
	if userID == "" {
		return ErrInvalidArgument
	}
	if idempotencyKey == "" {
		return ErrInvalidArgument
	}
	if !amount.IsPositive() {
		return ErrInvalidArgument
	}
	return nil
}
