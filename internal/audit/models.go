package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - user_id names the account the event belongs to.
// - actor and ip capture are best-effort; do not block call flows on audit failures.
//
// Storage: table audit_events, INSERT-only.
type Event struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event (if applicable).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP, when the event came through HTTP.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	WalletID  string `json:"wallet_id,omitempty" db:"wallet_id"`
	SessionID string `json:"session_id,omitempty" db:"session_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeAdminAction EventType = "admin_action"
	EventTypeTransfer    EventType = "call_transfer"
	EventTypeSettlement  EventType = "cost_settlement"
)
