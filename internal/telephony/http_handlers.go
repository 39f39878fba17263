package telephony

import (
	"net/http"
	"time"

	"voice-platform/internal/audit"
	"voice-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TwilioWebhookHandler converts the Twilio voice webhook to internal types,
// delegates routing, and writes TwiML.
//
// No business logic here.
type TwilioWebhookHandler struct {
	Router InboundRouter

	// AuthToken enables X-Twilio-Signature verification when set.
	AuthToken string
	// PublicURL overrides the scheme+host used to rebuild the signed URL behind a proxy.
	PublicURL string

	Now func() time.Time
}

func (h TwilioWebhookHandler) HandleInboundCall(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Router == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "inbound routing not configured"})
		return
	}

	form, err := ParseTwilioInboundCall(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "error", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	if h.AuthToken != "" {
		sig := c.GetHeader("X-Twilio-Signature")
		if !ValidateTwilioSignature(h.AuthToken, h.signedURL(c), c.Request.PostForm, sig) {
			log.Warn("twilio signature mismatch", "call_sid", form.CallSid)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
	}

	in := form.ToInboundCallRequest(h.Now())
	ctx := audit.WithClientIP(c.Request.Context(), c.ClientIP())

	res, err := h.Router.RouteInboundCall(ctx, in)
	if err != nil {
		log.Error("inbound call routing failed", "call_sid", form.CallSid, "error", err)
		c.Data(http.StatusOK, "application/xml", []byte(rejectTwiML()))
		return
	}

	twiml, err := RenderTwiML(res)
	if err != nil {
		log.Error("twiml render failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	log.Info("inbound call routed", "call_sid", form.CallSid, "action", string(res.Action), "agent_id", res.AgentID)
	c.Data(http.StatusOK, "application/xml", []byte(twiml))
}

func (h TwilioWebhookHandler) signedURL(c *gin.Context) string {
	base := h.PublicURL
	if base == "" {
		scheme := "https"
		if c.Request.TLS == nil && c.GetHeader("X-Forwarded-Proto") == "" {
			scheme = "http"
		} else if p := c.GetHeader("X-Forwarded-Proto"); p != "" {
			scheme = p
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + c.Request.URL.RequestURI()
}
