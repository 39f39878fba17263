package routing

import (
	"context"
	"errors"
	"strings"

	"voice-platform/internal/agents"
	"voice-platform/internal/telephony"
	"voice-platform/internal/wallet"
)

// RoutingEngine evaluates routing for inbound calls.
//
// Priority:
//  1. Dialed number must belong to an active agent
//  2. Owner wallet balance (when enforcement is on)
//  3. Bridge to the LiveKit SIP ingress
//
// Return routing decision only. No side effects (no DB writes, no provider calls).
// The session itself is created by the media worker once the SIP leg lands in a room.
type RoutingEngine struct {
	Agents AgentLookup
	Wallet wallet.BalanceService

	EnforceBalance bool
	// SIPDomain is the LiveKit SIP ingress host, e.g. "xyz.sip.livekit.cloud".
	SIPDomain string
}

// AgentLookup resolves the agent that owns a dialed number. agents.Service implements it.
type AgentLookup interface {
	FindByPhone(ctx context.Context, phone string) (agents.Agent, error)
}

type RouteInput struct {
	Inbound telephony.InboundCallRequest
}

func NewRoutingEngine(lookup AgentLookup, walletSvc wallet.BalanceService, sipDomain string, enforceBalance bool) *RoutingEngine {
	return &RoutingEngine{Agents: lookup, Wallet: walletSvc, SIPDomain: sipDomain, EnforceBalance: enforceBalance}
}

func (e *RoutingEngine) Route(ctx context.Context, in RouteInput) (Decision, error) {
	if e.Agents == nil {
		return Decision{}, errors.New("routing: agent lookup not configured")
	}
	to := strings.TrimSpace(in.Inbound.To)
	if to == "" {
		return Decision{Action: ActionReject, Reason: ReasonMissingDestination}, nil
	}
	if e.SIPDomain == "" {
		return Decision{Action: ActionReject, Reason: ReasonNoSIPDomain}, nil
	}

	// 1) Number ownership
	a, err := e.Agents.FindByPhone(ctx, to)
	if errors.Is(err, agents.ErrNotFound) {
		return Decision{Action: ActionReject, Reason: ReasonUnknownNumber}, nil
	}
	if err != nil {
		return Decision{}, err
	}

	// 2) Wallet balance
	if e.EnforceBalance {
		if e.Wallet == nil {
			return Decision{}, errors.New("routing: wallet service not configured")
		}
		bal, err := e.Wallet.GetBalance(ctx, a.UserID)
		if err != nil {
			return Decision{}, err
		}
		if !bal.Balance.IsPositive() {
			return Decision{UserID: a.UserID, AgentID: a.ID, Action: ActionReject, Reason: ReasonInsufficientBalance}, nil
		}
	}

	// 3) Bridge
	return Decision{
		UserID:    a.UserID,
		AgentID:   a.ID,
		Action:    ActionConnect,
		ConnectTo: SIPURI(a.PhoneNumber, e.SIPDomain),
		Reason:    ReasonAgentNumber,
	}, nil
}

// SIPURI builds the LiveKit SIP ingress address for a dialed number.
func SIPURI(number, domain string) string {
	return "sip:" + number + "@" + strings.TrimPrefix(domain, "sip:")
}
