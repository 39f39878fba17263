package telephony

import (
	"context"
	"net/http"

	"voice-platform/internal/config"
	"voice-platform/internal/transfer"
	"voice-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"
)

// sipCallActive is the sip.callStatus value of a leg the callee has picked up.
// A dialed leg is in the room from the first ring as "dialing" or "ringing".
const sipCallActive = "active"

// RoomEvents is what the LiveKit webhook drives in the call lifecycle.
type RoomEvents interface {
	RoomFinished(ctx context.Context, roomName string) error
	PhoneLegAnswered(ctx context.Context, roomName string) error
}

// LiveKitWebhookHandler verifies the signed webhook and forwards the
// lifecycle-relevant events. Everything else is logged and acknowledged.
type LiveKitWebhookHandler struct {
	Keys   auth.KeyProvider
	Events RoomEvents
}

func NewLiveKitWebhookHandler(cfg config.LiveKitConfig, events RoomEvents) LiveKitWebhookHandler {
	var keys auth.KeyProvider
	if cfg.APIKey != "" && cfg.APISecret != "" {
		keys = auth.NewSimpleKeyProvider(cfg.APIKey, cfg.APISecret)
	}
	return LiveKitWebhookHandler{Keys: keys, Events: events}
}

func (h LiveKitWebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Keys == nil || h.Events == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "LiveKit not configured"})
		return
	}

	ev, err := webhook.ReceiveWebhookEvent(c.Request, h.Keys)
	if err != nil {
		log.Warn("livekit webhook rejected", "error", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook"})
		return
	}

	if err := h.dispatch(c.Request.Context(), ev); err != nil {
		log.Error("livekit webhook handling failed", "event", ev.GetEvent(), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook handling failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h LiveKitWebhookHandler) dispatch(ctx context.Context, ev *livekit.WebhookEvent) error {
	room := ev.GetRoom().GetName()
	log := logger.From(ctx).With("event", ev.GetEvent(), "room_name", room)

	switch ev.GetEvent() {
	case webhook.EventRoomFinished:
		return h.Events.RoomFinished(ctx, room)
	case webhook.EventParticipantJoined, webhook.EventTrackPublished:
		p := ev.GetParticipant()
		if p == nil || transfer.Classify(participantFromInfo(p)) != transfer.RolePhoneLeg {
			log.Debug("participant event ignored", "identity", p.GetIdentity())
			return nil
		}
		if status := p.GetAttributes()[livekit.AttrSIPCallStatus]; status != sipCallActive {
			log.Debug("phone leg not answered yet", "identity", p.GetIdentity(), "sip_call_status", status)
			return nil
		}
		return h.Events.PhoneLegAnswered(ctx, room)
	default:
		log.Debug("livekit event ignored")
		return nil
	}
}
