package sessions

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session is one call, from room creation to settlement.
//
// Ownership invariant: UserID is required on every row. AgentID is optional and
// is cleared (not cascaded) when the agent is deleted.
//
// RoomName is the only key the out-of-process media worker knows; it is unique
// and never changes after creation.
type Session struct {
	ID       string `json:"id" db:"id"`
	UserID   string `json:"user_id" db:"user_id"`
	AgentID  string `json:"agent_id,omitempty" db:"agent_id"`
	RoomName string `json:"room_name" db:"room_name"`

	Direction  Direction  `json:"direction" db:"direction"`
	Status     Status     `json:"status" db:"status"`
	CallStatus CallStatus `json:"call_status,omitempty" db:"call_status"`

	// PhoneNumber is the dialed number for outbound calls and the caller for inbound SIP calls.
	PhoneNumber string         `json:"phone_number,omitempty" db:"phone_number"`
	CallbackURL string         `json:"callback_url,omitempty" db:"callback_url"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"metadata"`

	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds *int       `json:"duration_seconds,omitempty" db:"duration_seconds"`

	TransferredTo string       `json:"transferred_to,omitempty" db:"transferred_to"`
	TransferType  TransferType `json:"transfer_type,omitempty" db:"transfer_type"`
	TransferredAt *time.Time   `json:"transfer_timestamp,omitempty" db:"transfer_timestamp"`

	// TotalCost and CostBreakdown stay nil until the session is settled.
	TotalCost     *decimal.Decimal `json:"total_cost,omitempty" db:"total_cost"`
	CostBreakdown *CostBreakdown   `json:"cost_breakdown,omitempty" db:"cost_breakdown"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// CallStatus is the telephony-level status. The zero value means absent:
// browser and inbound sessions may never ring.
type CallStatus string

const (
	CallStatusNone     CallStatus = ""
	CallStatusRinging  CallStatus = "RINGING"
	CallStatusAnswered CallStatus = "ANSWERED"
	CallStatusComplete CallStatus = "COMPLETED"
	CallStatusFailed   CallStatus = "FAILED"
	CallStatusNoAnswer CallStatus = "NO_ANSWER"
)

type TransferType string

const (
	TransferWarm TransferType = "WARM"
	TransferCold TransferType = "COLD"
)

// CostBreakdown is written once per settlement; both maps are non-nil after settlement.
type CostBreakdown struct {
	ByType     map[string]decimal.Decimal `json:"by_type"`
	ByProvider map[string]decimal.Decimal `json:"by_provider"`
}

type Speaker string

const (
	SpeakerUser  Speaker = "USER"
	SpeakerAgent Speaker = "AGENT"
)

// Transcript is an append-only line of conversation.
type Transcript struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Speaker   Speaker   `json:"speaker" db:"speaker"`
	Content   string    `json:"content" db:"content"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

type ListFilter struct {
	// From/To bound created_at; zero values are open.
	From  time.Time
	To    time.Time
	Page  int
	Limit int
}

func (f ListFilter) normalized() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	return f
}

func (f ListFilter) offset() int {
	return (f.Page - 1) * f.Limit
}
