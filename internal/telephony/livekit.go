package telephony

import (
	"context"
	"errors"
	"strings"
	"time"

	"voice-platform/internal/config"
	"voice-platform/internal/transfer"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

var ErrNotConfigured = errors.New("livekit not configured")

// Gateway is the only place that talks to the LiveKit server API.
// It implements transfer.Signaling and the room/dial surface used by outbound calls.
type Gateway struct {
	rooms *lksdk.RoomServiceClient
	sip   *lksdk.SIPClient
}

// NewGateway returns nil when LiveKit is not configured; callers treat a nil
// gateway as "provider not configured".
func NewGateway(cfg config.LiveKitConfig) *Gateway {
	if !cfg.Configured() {
		return nil
	}
	return &Gateway{
		rooms: lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
		sip:   lksdk.NewSIPClient(cfg.URL, cfg.APIKey, cfg.APISecret),
	}
}

func (g *Gateway) CreateRoom(ctx context.Context, name string, emptyTimeout time.Duration) error {
	if g == nil {
		return ErrNotConfigured
	}
	_, err := g.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:         name,
		EmptyTimeout: uint32(emptyTimeout / time.Second),
	})
	return err
}

// DeleteRoom disconnects every participant, including a SIP leg that is still ringing.
func (g *Gateway) DeleteRoom(ctx context.Context, name string) error {
	if g == nil {
		return ErrNotConfigured
	}
	_, err := g.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: name})
	return err
}

func (g *Gateway) ListParticipants(ctx context.Context, room string) ([]transfer.Participant, error) {
	if g == nil {
		return nil, ErrNotConfigured
	}
	res, err := g.rooms.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: room})
	if err != nil {
		return nil, err
	}
	out := make([]transfer.Participant, 0, len(res.GetParticipants()))
	for _, p := range res.GetParticipants() {
		out = append(out, participantFromInfo(p))
	}
	return out, nil
}

func (g *Gateway) RemoveParticipant(ctx context.Context, room, identity string) error {
	if g == nil {
		return ErrNotConfigured
	}
	_, err := g.rooms.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{Room: room, Identity: identity})
	return err
}

// MoveSIPParticipant asks the SIP service to REFER the participant's call to another number.
func (g *Gateway) MoveSIPParticipant(ctx context.Context, room, identity, to string, playDialtone bool) error {
	if g == nil {
		return ErrNotConfigured
	}
	_, err := g.sip.TransferSIPParticipant(ctx, &livekit.TransferSIPParticipantRequest{
		ParticipantIdentity: identity,
		RoomName:            room,
		TransferTo:          transferURI(to),
		PlayDialtone:        playDialtone,
	})
	return err
}

func (g *Gateway) DialSIPParticipant(ctx context.Context, d transfer.Dial) error {
	if g == nil {
		return ErrNotConfigured
	}
	_, err := g.sip.CreateSIPParticipant(ctx, &livekit.CreateSIPParticipantRequest{
		SipTrunkId:          d.TrunkID,
		SipCallTo:           d.To,
		RoomName:            d.Room,
		ParticipantIdentity: d.Identity,
		ParticipantName:     d.Name,
		ParticipantMetadata: d.Metadata,
		PlayDialtone:        d.PlayDialtone,
		WaitUntilAnswered:   d.WaitUntilAnswered,
	})
	return err
}

func participantFromInfo(p *livekit.ParticipantInfo) transfer.Participant {
	return transfer.Participant{
		Identity: p.GetIdentity(),
		Name:     p.GetName(),
		Metadata: p.GetMetadata(),
		JoinedAt: p.GetJoinedAt(),
		SIP:      p.GetKind() == livekit.ParticipantInfo_SIP,
		Agent:    p.GetKind() == livekit.ParticipantInfo_AGENT,
	}
}

func transferURI(to string) string {
	lower := strings.ToLower(to)
	if strings.HasPrefix(lower, "sip:") || strings.HasPrefix(lower, "tel:") {
		return to
	}
	return "tel:" + to
}
