package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-platform/internal/agents"
	"voice-platform/internal/sessions"
	"voice-platform/internal/tasks"
	"voice-platform/internal/transfer"
	"voice-platform/internal/wallet"
	"voice-platform/pkg/logger"
	"voice-platform/pkg/metrics"
	"voice-platform/pkg/utils"

	"github.com/google/uuid"
)

const (
	outboundRoomPrefix     = "outbound-"
	phoneIdentityPrefix    = "phone-"
	roomEmptyTimeout       = 120 * time.Second
	defaultNoAnswerTimeout = 60 * time.Second
	dialTimeout            = 30 * time.Second
)

type AgentAuthorizer interface {
	GetActiveOwned(ctx context.Context, userID, agentID string) (agents.Agent, error)
}

// Orchestrator places outbound calls.
type Orchestrator struct {
	lifecycle *Lifecycle
	agents    AgentAuthorizer
	gateway   RoomGateway
	balance   wallet.BalanceService
	cfg       OutboundConfig
}

func NewOrchestrator(lc *Lifecycle, a AgentAuthorizer, gateway RoomGateway, cfg OutboundConfig) *Orchestrator {
	if cfg.NoAnswerTimeout <= 0 {
		cfg.NoAnswerTimeout = defaultNoAnswerTimeout
	}
	return &Orchestrator{lifecycle: lc, agents: a, gateway: gateway, cfg: cfg}
}

// WithBalance gates dials on a positive wallet balance when enforcement is on.
func (o *Orchestrator) WithBalance(b wallet.BalanceService) *Orchestrator {
	o.balance = b
	return o
}

// InitiateOutbound validates the request, persists a ringing session, creates
// the room and dials the number into it. A failed dial leaves the session FAILED.
// The no-answer timer is scheduled only for calls that were actually dialed.
func (o *Orchestrator) InitiateOutbound(ctx context.Context, userID string, req OutboundRequest) (OutboundResult, error) {
	// Strict E.164: surrounding whitespace is rejected, not trimmed.
	phone := req.PhoneNumber
	if !utils.IsE164(phone) {
		return OutboundResult{}, ErrInvalidNumber
	}
	if !o.cfg.Configured || o.cfg.TrunkID == "" || o.gateway == nil {
		return OutboundResult{}, ErrNotConfigured
	}
	if userID == "" || req.AgentID == "" {
		return OutboundResult{}, ErrInvalidArgument
	}

	agent, err := o.agents.GetActiveOwned(ctx, userID, req.AgentID)
	if err != nil {
		if errors.Is(err, agents.ErrNotFound) {
			return OutboundResult{}, ErrAgentNotFound
		}
		return OutboundResult{}, fmt.Errorf("lookup agent: %w", err)
	}

	if o.cfg.EnforceBalance && o.balance != nil {
		bal, err := o.balance.GetBalance(ctx, userID)
		if err != nil {
			return OutboundResult{}, fmt.Errorf("balance lookup: %w", err)
		}
		if !bal.Balance.IsPositive() {
			metrics.OutboundDials.WithLabelValues("insufficient_balance").Inc()
			return OutboundResult{}, ErrInsufficientBalance
		}
	}

	lc := o.lifecycle
	ok, err := lc.limiter.Acquire(ctx, userID)
	if err != nil {
		return OutboundResult{}, fmt.Errorf("acquire outbound slot: %w", err)
	}
	if !ok {
		metrics.OutboundDials.WithLabelValues("rate_limited").Inc()
		return OutboundResult{}, ErrTooManyCalls
	}

	id := uuid.NewString()
	now := lc.now().UTC()
	s, err := lc.store.Create(ctx, sessions.Session{
		ID:          id,
		UserID:      userID,
		AgentID:     agent.ID,
		RoomName:    outboundRoomPrefix + id[:8],
		Direction:   sessions.DirectionOutbound,
		Status:      sessions.StatusActive,
		CallStatus:  sessions.CallStatusRinging,
		PhoneNumber: phone,
		CallbackURL: strings.TrimSpace(req.CallbackURL),
		Metadata:    req.Metadata,
		StartedAt:   &now,
	})
	if err != nil {
		lc.limiter.Release(ctx, userID)
		return OutboundResult{}, fmt.Errorf("create session: %w", err)
	}
	ctx = logger.WithAttrs(ctx, "session_id", s.ID, "room_name", s.RoomName)
	lc.publish(s)

	if err := o.dial(ctx, s); err != nil {
		metrics.OutboundDials.WithLabelValues("dial_failed").Inc()
		lc.failDial(ctx, s, err)
		return OutboundResult{}, fmt.Errorf("%w: %v", ErrDialFailed, err)
	}
	metrics.OutboundDials.WithLabelValues("dialed").Inc()

	if err := lc.queue.Enqueue(ctx, tasks.ForSession(tasks.TypeNoAnswerTimeout, s.ID), o.cfg.NoAnswerTimeout); err != nil {
		logger.From(ctx).Error("schedule no-answer timeout failed", "error", err)
	}
	logger.From(ctx).Info("outbound call dialed", "agent_id", agent.ID)

	return OutboundResult{CallID: s.ID, RoomName: s.RoomName, Status: s.CallStatus}, nil
}

func (o *Orchestrator) dial(ctx context.Context, s sessions.Session) error {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	if err := o.gateway.CreateRoom(ctx, s.RoomName, roomEmptyTimeout); err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	err := o.gateway.DialSIPParticipant(ctx, transfer.Dial{
		TrunkID:      o.cfg.TrunkID,
		To:           s.PhoneNumber,
		Room:         s.RoomName,
		Identity:     phoneIdentityPrefix + s.PhoneNumber,
		Name:         "Phone " + s.PhoneNumber,
		Metadata:     transfer.RoleMetadata(transfer.RolePhoneLeg),
		PlayDialtone: true,
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	return nil
}

// Status returns the call view of one session.
func (o *Orchestrator) Status(ctx context.Context, actor Actor, callID string) (StatusView, error) {
	s, err := o.lifecycle.Get(ctx, actor, callID)
	if err != nil {
		return StatusView{}, err
	}
	return NewStatusView(s), nil
}
