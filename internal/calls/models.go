// Package calls orchestrates the life of a call: placing outbound dials,
// answering, ending, timing out and transferring. Every state change goes
// through a guarded session transition, so concurrent writers never regress a call.
package calls

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"voice-platform/internal/rbac"
	"voice-platform/internal/sessions"
)

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidNumber       = errors.New("invalid phone number")
	ErrNotConfigured       = errors.New("telephony not configured")
	ErrAgentNotFound       = errors.New("agent not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTooManyCalls        = errors.New("too many concurrent outbound calls")
	ErrDialFailed          = errors.New("failed to initiate call")
	ErrSessionNotFound     = errors.New("session not found")
	ErrRoomExists          = errors.New("room already has a session")
	ErrSessionNotActive    = errors.New("session is not active")
	ErrAlreadyTransferred  = errors.New("session has already been transferred")
	ErrTransferInProgress  = errors.New("transfer already in progress")
	ErrInvalidTransferType = errors.New("transfer type must be WARM or COLD")
	ErrTransferFailed      = errors.New("transfer failed")
)

// Actor is the caller on whose behalf an operation runs.
// Service callers (the media worker) act across users.
type Actor struct {
	UserID  string
	Role    string
	Service bool
}

func (a Actor) canAccess(s sessions.Session) bool {
	return a.Service || rbac.IsSuperAdmin(a.Role) || (a.UserID != "" && a.UserID == s.UserID)
}

/* ===================== OUTBOUND ===================== */

type OutboundRequest struct {
	AgentID     string         `json:"agent_id"`
	PhoneNumber string         `json:"phone_number"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type OutboundResult struct {
	CallID   string              `json:"call_id"`
	RoomName string              `json:"room_name"`
	Status   sessions.CallStatus `json:"status"`
}

// OutboundConfig is the provider side of outbound dialing.
type OutboundConfig struct {
	// Configured is false when provider credentials are missing.
	Configured      bool
	TrunkID         string
	NoAnswerTimeout time.Duration
	EnforceBalance  bool
}

// StatusView is the public status of one call.
type StatusView struct {
	CallID          string              `json:"call_id"`
	SessionStatus   sessions.Status     `json:"session_status"`
	CallStatus      sessions.CallStatus `json:"call_status,omitempty"`
	Direction       sessions.Direction  `json:"direction"`
	PhoneNumber     string              `json:"phone_number,omitempty"`
	RoomName        string              `json:"room_name"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	EndedAt         *time.Time          `json:"ended_at,omitempty"`
	DurationSeconds *int                `json:"duration_seconds,omitempty"`
}

func NewStatusView(s sessions.Session) StatusView {
	return StatusView{
		CallID:          s.ID,
		SessionStatus:   s.Status,
		CallStatus:      s.CallStatus,
		Direction:       s.Direction,
		PhoneNumber:     s.PhoneNumber,
		RoomName:        s.RoomName,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		DurationSeconds: s.DurationSeconds,
	}
}

/* ===================== SESSIONS ===================== */

// CreateSessionRequest opens an inbound SIP or browser session.
// UserID is taken from the token for users; the media worker supplies it.
type CreateSessionRequest struct {
	UserID      string             `json:"user_id"`
	AgentID     string             `json:"agent_id"`
	RoomName    string             `json:"room_name"`
	Direction   sessions.Direction `json:"direction"`
	PhoneNumber string             `json:"phone_number"`
	Metadata    map[string]any     `json:"metadata"`
}

/* ===================== TRANSFERS ===================== */

type TransferRequest struct {
	PhoneNumber string `json:"phone_number"`
	Type        string `json:"type"`
}

type TransferResponse struct {
	SessionID     string                `json:"session_id"`
	TransferType  sessions.TransferType `json:"transfer_type"`
	TransferredTo string                `json:"transferred_to"`
	Status        string                `json:"status"`
	Message       string                `json:"message"`
}

func parseTransferType(s string) (sessions.TransferType, bool) {
	switch sessions.TransferType(strings.ToUpper(strings.TrimSpace(s))) {
	case sessions.TransferCold:
		return sessions.TransferCold, true
	case sessions.TransferWarm:
		return sessions.TransferWarm, true
	}
	return "", false
}

/* ===================== NOTIFICATIONS ===================== */

// StatusCallback is POSTed to an outbound call's callback_url once it ends.
type StatusCallback struct {
	CallID          string              `json:"call_id"`
	RoomName        string              `json:"room_name"`
	SessionStatus   sessions.Status     `json:"session_status"`
	CallStatus      sessions.CallStatus `json:"call_status,omitempty"`
	PhoneNumber     string              `json:"phone_number,omitempty"`
	DurationSeconds int                 `json:"duration_seconds"`
	EndedAt         *time.Time          `json:"ended_at,omitempty"`
}

func newStatusCallback(s sessions.Session) StatusCallback {
	return StatusCallback{
		CallID:          s.ID,
		RoomName:        s.RoomName,
		SessionStatus:   s.Status,
		CallStatus:      s.CallStatus,
		PhoneNumber:     s.PhoneNumber,
		DurationSeconds: duration(s),
		EndedAt:         s.EndedAt,
	}
}

// EndReason names why a call ended, as reported to post-call webhooks.
func EndReason(s sessions.Session) string {
	switch s.CallStatus {
	case sessions.CallStatusNoAnswer:
		return "no_answer"
	case sessions.CallStatusFailed:
		return "failed"
	}
	return "disconnected"
}

// PostCallVariables are the {{key}} values available to a post-call webhook body.
func PostCallVariables(s sessions.Session) map[string]string {
	return map[string]string{
		"agent_id":         s.AgentID,
		"room_name":        s.RoomName,
		"user_id":          s.UserID,
		"session_id":       s.ID,
		"reason":           EndReason(s),
		"duration_seconds": strconv.Itoa(duration(s)),
	}
}

func duration(s sessions.Session) int {
	if s.DurationSeconds == nil {
		return 0
	}
	return *s.DurationSeconds
}
