package telephony

import (
	"testing"

	"voice-platform/internal/config"

	"github.com/livekit/protocol/auth"
)

func TestTokenIssuer_IssuesRoomGrant(t *testing.T) {
	cfg := config.LiveKitConfig{URL: "wss://lk.example", APIKey: "key", APISecret: "a-secret-long-enough-for-hmac-signing"}
	tok, err := NewTokenIssuer(cfg).Issue("room-1", "user-1", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok.WSURL != cfg.URL || tok.RoomName != "room-1" {
		t.Fatalf("unexpected token response: %+v", tok)
	}

	v, err := auth.ParseAPIToken(tok.Token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.APIKey() != "key" || v.Identity() != "user-1" {
		t.Fatalf("unexpected token subject: key=%q identity=%q", v.APIKey(), v.Identity())
	}
}

func TestTokenIssuer_NotConfigured(t *testing.T) {
	if _, err := NewTokenIssuer(config.LiveKitConfig{}).Issue("r", "u", ""); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
