// Package transfer hands a live call to another number through the room provider.
//
// The client performs no idempotency checks; the caller must guard against
// transferring a session twice before invoking it.
package transfer

import (
	"context"
	"fmt"
	"time"

	"voice-platform/pkg/logger"
)

// Signaling is the provider surface the transfer protocol needs.
// The LiveKit gateway in internal/telephony implements it.
type Signaling interface {
	ListParticipants(ctx context.Context, room string) ([]Participant, error)
	RemoveParticipant(ctx context.Context, room, identity string) error
	MoveSIPParticipant(ctx context.Context, room, identity, to string, playDialtone bool) error
	DialSIPParticipant(ctx context.Context, req Dial) error
}

// Dial describes a new SIP participant dialed into a room.
type Dial struct {
	TrunkID           string
	To                string
	Room              string
	Identity          string
	Name              string
	Metadata          string
	PlayDialtone      bool
	WaitUntilAnswered bool
}

type FailureKind string

const (
	FailureNone            FailureKind = ""
	FailureNoPartyFound    FailureKind = "no_party_found"
	FailureSignalingFailed FailureKind = "signaling_failed"
	FailureNotConfigured   FailureKind = "not_configured"
)

// Result is always returned instead of an error so callers can map it to a response.
type Result struct {
	Success bool
	Message string
	Failure FailureKind
	// Reason carries the provider error text for SignalingFailed.
	Reason string
}

const (
	msgNoParty       = "No SIP participant found in room"
	msgNotConfigured = "Transfer provider not configured"
	msgColdDone      = "Cold transfer completed successfully"
	msgWarmDone      = "Warm transfer initiated, three-way call active"
)

const defaultRequestTimeout = 30 * time.Second

type Client struct {
	sig     Signaling
	timeout time.Duration
}

// NewClient builds a client. A nil Signaling makes every call report NotConfigured.
func NewClient(sig Signaling) *Client {
	return &Client{sig: sig, timeout: defaultRequestTimeout}
}

// Cold moves the phone leg to target and then drops the agent leg.
// Failing to drop the agent is logged; the transfer still counts as done.
// The move reuses the leg's existing trunk, but an empty trunkID still reports
// NotConfigured so both transfer types fail the same way.
func (c *Client) Cold(ctx context.Context, room, target, trunkID string) Result {
	if c.sig == nil || trunkID == "" {
		return notConfigured()
	}
	log := logger.From(ctx).With("room_name", room, "transfer_type", "cold")

	ps, res, ok := c.participants(ctx, room)
	if !ok {
		return res
	}
	phone, found := PhoneLeg(ps)
	if !found {
		return Result{Message: msgNoParty, Failure: FailureNoPartyFound}
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.sig.MoveSIPParticipant(cctx, room, phone.Identity, target, true)
	cancel()
	if err != nil {
		log.Error("sip transfer failed", "participant", phone.Identity, "error", err)
		return signalingFailed(err)
	}

	if agent, ok := AgentLeg(ps); ok {
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		if err := c.sig.RemoveParticipant(rctx, room, agent.Identity); err != nil {
			log.Warn("failed to remove agent from room", "participant", agent.Identity, "error", err)
		}
		cancel()
	}

	return Result{Success: true, Message: msgColdDone}
}

// Warm dials target into the room as a new participant. Nobody is removed.
func (c *Client) Warm(ctx context.Context, room, target, trunkID string) Result {
	if c.sig == nil || trunkID == "" {
		return notConfigured()
	}
	log := logger.From(ctx).With("room_name", room, "transfer_type", "warm")

	ps, res, ok := c.participants(ctx, room)
	if !ok {
		return res
	}
	if _, found := PhoneLeg(ps); !found {
		return Result{Message: msgNoParty, Failure: FailureNoPartyFound}
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := c.sig.DialSIPParticipant(cctx, Dial{
		TrunkID:           trunkID,
		To:                target,
		Room:              room,
		Identity:          TransferIdentityPrefix + target,
		Name:              "Transfer: " + target,
		Metadata:          RoleMetadata(RoleTransferTarget),
		PlayDialtone:      true,
		WaitUntilAnswered: true,
	})
	if err != nil {
		log.Error("failed to dial transfer target", "error", err)
		return signalingFailed(err)
	}
	return Result{Success: true, Message: msgWarmDone}
}

func (c *Client) participants(ctx context.Context, room string) ([]Participant, Result, bool) {
	lctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ps, err := c.sig.ListParticipants(lctx, room)
	if err != nil {
		return nil, signalingFailed(err), false
	}
	return ps, Result{}, true
}

func notConfigured() Result {
	return Result{Message: msgNotConfigured, Failure: FailureNotConfigured}
}

func signalingFailed(err error) Result {
	return Result{
		Message: fmt.Sprintf("Transfer failed: target may be unreachable (%v)", err),
		Failure: FailureSignalingFailed,
		Reason:  err.Error(),
	}
}
