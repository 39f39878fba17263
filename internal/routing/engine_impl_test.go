package routing

import (
	"context"
	"errors"
	"testing"

	"voice-platform/internal/agents"
	"voice-platform/internal/telephony"
	"voice-platform/internal/wallet"

	"github.com/shopspring/decimal"
)

type stubAgents struct {
	a   agents.Agent
	err error
}

func (s stubAgents) FindByPhone(ctx context.Context, phone string) (agents.Agent, error) {
	return s.a, s.err
}

type stubWallet struct {
	bal wallet.Balance
	err error
}

func (s stubWallet) GetBalance(ctx context.Context, userID string) (wallet.Balance, error) {
	return s.bal, s.err
}

var support = agents.Agent{ID: "a1", UserID: "u1", Name: "Support", IsActive: true, PhoneNumber: "+15557654321"}

func inbound() RouteInput {
	return RouteInput{Inbound: telephony.InboundCallRequest{ProviderCallID: "CA1", From: "+15551234567", To: "+15557654321"}}
}

func TestRoutingEngine_ConnectsToSIPDomain(t *testing.T) {
	e := NewRoutingEngine(stubAgents{a: support}, nil, "lk.sip.example", false)

	d, err := e.Route(context.Background(), inbound())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.Action != ActionConnect || d.ConnectTo != "sip:+15557654321@lk.sip.example" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.AgentID != "a1" || d.UserID != "u1" {
		t.Fatalf("expected agent ownership on decision: %+v", d)
	}
}

func TestRoutingEngine_UnknownNumberRejects(t *testing.T) {
	e := NewRoutingEngine(stubAgents{err: agents.ErrNotFound}, nil, "lk.sip.example", false)
	d, err := e.Route(context.Background(), inbound())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.Action != ActionReject || d.Reason != ReasonUnknownNumber {
		t.Fatalf("expected reject, got %+v", d)
	}
}

func TestRoutingEngine_InsufficientBalanceRejects(t *testing.T) {
	e := NewRoutingEngine(stubAgents{a: support}, stubWallet{bal: wallet.Balance{Balance: decimal.Zero}}, "lk.sip.example", true)
	d, err := e.Route(context.Background(), inbound())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.Action != ActionReject || d.Reason != ReasonInsufficientBalance {
		t.Fatalf("expected insufficient_balance reject, got %+v", d)
	}

	e.Wallet = stubWallet{bal: wallet.Balance{Balance: decimal.NewFromInt(5)}}
	if d, _ := e.Route(context.Background(), inbound()); d.Action != ActionConnect {
		t.Fatalf("expected connect with funded wallet, got %+v", d)
	}
}

func TestRoutingEngine_LookupErrorPropagates(t *testing.T) {
	e := NewRoutingEngine(stubAgents{err: errors.New("db down")}, nil, "lk.sip.example", false)
	if _, err := e.Route(context.Background(), inbound()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEngineAdapter_MapsDecision(t *testing.T) {
	r := NewEngineAdapter(NewRoutingEngine(stubAgents{a: support}, nil, "lk.sip.example", false))
	res, err := r.RouteInboundCall(context.Background(), inbound().Inbound)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Action != telephony.InboundCallActionConnect || res.ConnectTo == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.CallerID != inbound().Inbound.From {
		t.Fatalf("caller id = %q, want %q", res.CallerID, inbound().Inbound.From)
	}
}

func TestDecision_Result(t *testing.T) {
	res, err := Decision{UserID: "u1", AgentID: "a1", Action: ActionConnect, ConnectTo: "sip:+1@d"}.Result()
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.Action != telephony.InboundCallActionConnect || res.ConnectTo != "sip:+1@d" || res.AgentID != "a1" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = Decision{Action: ActionReject, ConnectTo: "ignored"}.Result()
	if err != nil || res.Action != telephony.InboundCallActionReject || res.ConnectTo != "" || res.RejectReason != "rejected" {
		t.Fatalf("unexpected reject result: %+v err=%v", res, err)
	}

	res, _ = Decision{Action: ActionReject, Reason: ReasonInsufficientBalance}.Result()
	if res.RejectReason != "busy" {
		t.Fatalf("reject reason = %q, want busy", res.RejectReason)
	}

	if _, err := (Decision{Action: "forward"}).Result(); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}
