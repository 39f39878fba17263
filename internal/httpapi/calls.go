package httpapi

import (
	"errors"
	"net/http"

	"voice-platform/internal/calls"

	"github.com/gin-gonic/gin"
)

// CreateOutboundCall places an outbound call for an agent the caller owns.
func (h Handlers) CreateOutboundCall(c *gin.Context) {
	if h.Orchestrator == nil {
		notConfigured(c, "calls")
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req calls.OutboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := h.Orchestrator.InitiateOutbound(c.Request.Context(), userID, req)
	if err != nil {
		writeCallsError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h Handlers) GetCallStatus(c *gin.Context) {
	if h.Orchestrator == nil {
		notConfigured(c, "calls")
		return
	}
	view, err := h.Orchestrator.Status(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, calls.ErrSessionNotFound) {
			abort(c, http.StatusNotFound, "Call not found")
			return
		}
		writeCallsError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// TransferSession hands a live call to another number, cold or warm.
func (h Handlers) TransferSession(c *gin.Context) {
	if h.Transfers == nil {
		notConfigured(c, "transfers")
		return
	}
	var req calls.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	withClientIP(c)
	res, err := h.Transfers.Transfer(c.Request.Context(), actor(c), c.Param("id"), req)
	if err != nil {
		writeCallsError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
