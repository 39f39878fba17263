package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is the only currency wallets are kept in; provider rates are USD.
const Currency = "USD"

// Wallet is the per-user prepaid balance account.
// Invariant: balance must be derived from immutable ledger entries.
// No code should ever mutate a "balance" without writing a corresponding ledger entry.
type Wallet struct {
	ID       string       `json:"id" db:"id"`
	UserID   string       `json:"user_id" db:"user_id"`
	Currency string       `json:"currency" db:"currency"`
	Status   WalletStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type WalletStatus string

const (
	WalletStatusActive   WalletStatus = "active"
	WalletStatusDisabled WalletStatus = "disabled"
)

// LedgerEntry is an immutable append-only credit or debit.
type LedgerEntry struct {
	ID       string          `json:"id" db:"id"`
	UserID   string          `json:"user_id" db:"user_id"`
	WalletID string          `json:"wallet_id" db:"wallet_id"`
	Type     LedgerEntryType `json:"type" db:"type"`

	// Amount is signed: credits are positive, debits are negative.
	Amount   decimal.Decimal `json:"amount" db:"amount"`
	Currency string          `json:"currency" db:"currency"`

	// ExternalRef points at what caused the entry, e.g. a session id.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey makes retried postings safe. UNIQUE (wallet_id, idempotency_key).
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LedgerEntryType string

const (
	LedgerEntryTypeCredit LedgerEntryType = "credit" // top-up, adjustment
	LedgerEntryTypeDebit  LedgerEntryType = "debit"  // usage settlement
)

// AdminWalletAction tracks manual balance changes made by privileged users.
// It is not the ledger itself: every action also writes a LedgerEntry.
type AdminWalletAction struct {
	ID          string `json:"id" db:"id"`
	UserID      string `json:"user_id" db:"user_id"`
	WalletID    string `json:"wallet_id" db:"wallet_id"`
	AdminUserID string `json:"admin_user_id" db:"admin_user_id"`
	AdminRole   string `json:"admin_role" db:"admin_role"`

	Action AdminWalletActionType `json:"action" db:"action"`
	Reason string                `json:"reason,omitempty" db:"reason"`

	Amount   decimal.Decimal `json:"amount" db:"amount"`
	Currency string          `json:"currency" db:"currency"`

	RelatedLedgerID string `json:"related_ledger_id,omitempty" db:"related_ledger_id"`
	Metadata        string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type AdminWalletActionType string

const (
	AdminWalletActionTypeAdjustBalance AdminWalletActionType = "adjust_balance"
)

type Balance struct {
	UserID    string          `json:"user_id"`
	WalletID  string          `json:"wallet_id,omitempty"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}
