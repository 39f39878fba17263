package httpapi

import (
	"errors"
	"net/http"

	"voice-platform/internal/telephony"
	"voice-platform/internal/voices"

	"github.com/gin-gonic/gin"
)

type roomTokenRequest struct {
	RoomName string `json:"room_name"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// IssueRoomToken mints a LiveKit join token for a browser participant.
func (h Handlers) IssueRoomToken(c *gin.Context) {
	var req roomTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.RoomName == "" || req.UserID == "" {
		abort(c, http.StatusBadRequest, "room_name and user_id required")
		return
	}
	tok, err := h.Tokens.Issue(req.RoomName, req.UserID, req.UserName)
	if err != nil {
		if errors.Is(err, telephony.ErrNotConfigured) {
			notConfigured(c, "LiveKit")
			return
		}
		internalError(c, "token generation failed", err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

func (h Handlers) ListVoices(c *gin.Context) {
	if h.Voices == nil {
		abort(c, http.StatusServiceUnavailable, voices.ErrNotConfigured.Error())
		return
	}
	list, err := h.Voices.List(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, list)
	case errors.Is(err, voices.ErrNotConfigured):
		abort(c, http.StatusServiceUnavailable, err.Error())
	default:
		abort(c, http.StatusBadGateway, voices.ErrUpstream.Error())
	}
}
