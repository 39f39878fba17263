package telephony

import (
	"errors"
	"time"

	"voice-platform/internal/config"

	"github.com/livekit/protocol/auth"
)

const roomTokenTTL = 10 * time.Minute

type RoomToken struct {
	Token    string `json:"token"`
	WSURL    string `json:"ws_url"`
	RoomName string `json:"room_name"`
}

// TokenIssuer mints room-join tokens for browser participants.
type TokenIssuer struct {
	cfg config.LiveKitConfig
}

func NewTokenIssuer(cfg config.LiveKitConfig) *TokenIssuer {
	return &TokenIssuer{cfg: cfg}
}

func (t *TokenIssuer) Issue(roomName, identity, name string) (RoomToken, error) {
	if t == nil || t.cfg.APIKey == "" || t.cfg.APISecret == "" {
		return RoomToken{}, ErrNotConfigured
	}
	if roomName == "" || identity == "" {
		return RoomToken{}, errors.New("room_name and user_id required")
	}
	if name == "" {
		name = identity
	}

	grant := &auth.VideoGrant{RoomJoin: true, Room: roomName}
	grant.SetCanPublish(true)
	grant.SetCanSubscribe(true)
	grant.SetCanPublishData(true)

	jwt, err := auth.NewAccessToken(t.cfg.APIKey, t.cfg.APISecret).
		SetVideoGrant(grant).
		SetIdentity(identity).
		SetName(name).
		SetValidFor(roomTokenTTL).
		ToJWT()
	if err != nil {
		return RoomToken{}, err
	}
	return RoomToken{Token: jwt, WSURL: t.cfg.URL, RoomName: roomName}, nil
}
