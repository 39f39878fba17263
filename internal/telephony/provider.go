package telephony

import (
	"context"
	"time"
)

// InboundRouter decides what to do with an inbound PSTN call.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Keep request/response types provider-agnostic.
//
// internal/routing implements it; the Twilio handler only depends on this contract.
type InboundRouter interface {
	RouteInboundCall(ctx context.Context, req InboundCallRequest) (InboundCallResult, error)
}

// InboundCallRequest represents an inbound call event received from a provider.
type InboundCallRequest struct {
	// ProviderCallID is the provider's unique identifier for this call.
	ProviderCallID string `json:"provider_call_id"`

	// From and To are E.164 where possible.
	From string `json:"from"`
	To   string `json:"to"`

	OccurredAt time.Time `json:"occurred_at"`

	// RawPayload is optional for debugging; JSON string.
	RawPayload string `json:"raw_payload,omitempty"`
}

// InboundCallResult is the routing decision the adapter executes.
type InboundCallResult struct {
	UserID  string `json:"user_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`

	Action InboundCallAction `json:"action"`

	// ConnectTo is used when Action == "connect".
	ConnectTo string `json:"connect_to,omitempty"`
	// CallerID is presented to the bridged leg; empty keeps the provider default.
	CallerID string `json:"caller_id,omitempty"`

	// RejectReason is "busy" or "rejected"; anything else renders as "rejected".
	RejectReason string `json:"reject_reason,omitempty"`
}

type InboundCallAction string

const (
	InboundCallActionReject  InboundCallAction = "reject"
	InboundCallActionConnect InboundCallAction = "connect"
	InboundCallActionHangup  InboundCallAction = "hangup"
)
