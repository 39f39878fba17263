package httpapi

import (
	"errors"
	"net/http"

	"voice-platform/internal/reporting"
	"voice-platform/internal/usage"

	"github.com/gin-gonic/gin"
)

// RecordUsage appends one metered event for an active session.
func (h Handlers) RecordUsage(c *gin.Context) {
	if h.Usage == nil {
		notConfigured(c, "usage")
		return
	}
	var req usage.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	e, err := h.Usage.Record(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, e)
	case errors.Is(err, usage.ErrSessionNotFound):
		abort(c, http.StatusNotFound, "Session not found")
	case errors.Is(err, usage.ErrSessionNotActive):
		abort(c, http.StatusConflict, "Session is not active")
	case errors.Is(err, usage.ErrInvalidArgument):
		abort(c, http.StatusBadRequest, err.Error())
	default:
		internalError(c, "usage write failed", err)
	}
}

/* ===================== REPORTING ===================== */

func (h Handlers) CostSummary(c *gin.Context) {
	if h.Costs == nil {
		notConfigured(c, "costs")
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	out, err := h.Costs.Summary(c.Request.Context(), userID)
	if err != nil {
		internalError(c, "cost summary failed", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) CostTimeline(c *gin.Context) {
	if h.Costs == nil {
		notConfigured(c, "costs")
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	out, err := h.Costs.Timeline(c.Request.Context(), reporting.TimelineRequest{
		UserID: userID,
		Period: reporting.Period(c.DefaultQuery("period", string(reporting.PeriodDaily))),
		Range:  reporting.TimeRange{From: queryTime(c, "start_date"), To: queryTime(c, "end_date")},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			abort(c, http.StatusBadRequest, "period must be daily, weekly or monthly")
			return
		}
		internalError(c, "cost timeline failed", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) CostByAgent(c *gin.Context) {
	if h.Costs == nil {
		notConfigured(c, "costs")
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	out, err := h.Costs.ByAgent(c.Request.Context(), userID)
	if err != nil {
		internalError(c, "cost by agent failed", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ListRates returns the pricing catalog in effect now.
func (h Handlers) ListRates(c *gin.Context) {
	if h.Pricing == nil {
		notConfigured(c, "pricing")
		return
	}
	rates, err := h.Pricing.Rates(c.Request.Context())
	if err != nil {
		internalError(c, "rate lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, rates)
}
