package routing

import (
	"errors"

	"voice-platform/internal/telephony"
)

// Decision is what the engine wants done with one inbound call.
// The TwiML adapter only ever sees it through Result.
type Decision struct {
	UserID  string `json:"user_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`

	Action    Action `json:"action"`
	ConnectTo string `json:"connect_to,omitempty"`

	// Reason is logged, never returned to the caller.
	Reason Reason `json:"reason,omitempty"`
}

type Action string

const (
	ActionReject  Action = "reject"
	ActionConnect Action = "connect"
	ActionHangup  Action = "hangup"
)

type Reason string

const (
	ReasonMissingDestination  Reason = "missing_destination"
	ReasonNoSIPDomain         Reason = "sip_domain_not_configured"
	ReasonUnknownNumber       Reason = "unknown_number"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonAgentNumber         Reason = "agent_number"
)

var errUnknownAction = errors.New("routing: unknown decision action")

// Result converts the decision to the provider-facing routing result.
func (d Decision) Result() (telephony.InboundCallResult, error) {
	res := telephony.InboundCallResult{UserID: d.UserID, AgentID: d.AgentID}
	switch d.Action {
	case ActionReject:
		res.Action = telephony.InboundCallActionReject
		res.RejectReason = "rejected"
		if d.Reason == ReasonInsufficientBalance {
			res.RejectReason = "busy"
		}
	case ActionHangup:
		res.Action = telephony.InboundCallActionHangup
	case ActionConnect:
		res.Action = telephony.InboundCallActionConnect
		res.ConnectTo = d.ConnectTo
	default:
		return telephony.InboundCallResult{}, errUnknownAction
	}
	return res, nil
}
