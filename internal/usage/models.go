package usage

import (
	"time"

	"voice-platform/internal/pricing"

	"github.com/shopspring/decimal"
)

// Event is an append-only metered fact reported by the media worker.
// Rows are never updated; they are removed only when their session is deleted.
type Event struct {
	ID        string            `json:"id" db:"id"`
	SessionID string            `json:"session_id" db:"session_id"`
	UserID    string            `json:"user_id" db:"user_id"`
	AgentID   string            `json:"agent_id,omitempty" db:"agent_id"`
	Provider  string            `json:"provider" db:"provider"`
	EventType pricing.EventType `json:"event_type" db:"event_type"`
	Quantity  decimal.Decimal   `json:"quantity" db:"quantity"`
	UnitCost  decimal.Decimal   `json:"unit_cost" db:"unit_cost"`
	TotalCost decimal.Decimal   `json:"total_cost" db:"total_cost"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// Query bounds created_at for per-user reads; zero values are open.
type Query struct {
	From time.Time
	To   time.Time
}
