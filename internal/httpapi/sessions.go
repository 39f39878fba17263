package httpapi

import (
	"errors"
	"net/http"

	"voice-platform/internal/calls"
	"voice-platform/internal/costs"
	"voice-platform/internal/sessions"
	"voice-platform/internal/usage"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type sessionListResponse struct {
	Sessions []sessions.Session `json:"sessions"`
	Total    int                `json:"total"`
	Page     int                `json:"page"`
	Limit    int                `json:"limit"`
}

// ListSessions returns the caller's sessions, newest first.
func (h Handlers) ListSessions(c *gin.Context) {
	if h.Sessions == nil {
		notConfigured(c, "sessions")
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	f := sessions.ListFilter{
		From:  queryTime(c, "start_date"),
		To:    queryTime(c, "end_date"),
		Page:  queryInt(c, "page", 1),
		Limit: queryInt(c, "limit", 20),
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	list, total, err := h.Sessions.List(c.Request.Context(), userID, f)
	if err != nil {
		internalError(c, "session lookup failed", err)
		return
	}
	if list == nil {
		list = []sessions.Session{}
	}
	c.JSON(http.StatusOK, sessionListResponse{Sessions: list, Total: total, Page: f.Page, Limit: f.Limit})
}

func (h Handlers) CreateSession(c *gin.Context) {
	if h.Lifecycle == nil {
		notConfigured(c, "sessions")
		return
	}
	var req calls.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	// Users open sessions for themselves; only the media worker names the owner.
	if a := actor(c); !a.Service {
		if a.UserID == "" {
			abort(c, http.StatusUnauthorized, "user_id required")
			return
		}
		req.UserID = a.UserID
	}
	s, err := h.Lifecycle.CreateSession(c.Request.Context(), req)
	if err != nil {
		writeCallsError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h Handlers) GetSession(c *gin.Context) {
	if h.Lifecycle == nil {
		notConfigured(c, "sessions")
		return
	}
	s, err := h.Lifecycle.Get(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeCallsError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) GetSessionByRoom(c *gin.Context) {
	if h.Lifecycle == nil {
		notConfigured(c, "sessions")
		return
	}
	s, err := h.Lifecycle.GetByRoom(c.Request.Context(), actor(c), c.Param("room"))
	if err != nil {
		writeCallsError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// EndSessionByRoom is called by the media worker when the room empties.
// Ending an ended session returns it unchanged.
func (h Handlers) EndSessionByRoom(c *gin.Context) {
	if h.Lifecycle == nil {
		notConfigured(c, "sessions")
		return
	}
	room := c.Param("room")
	if _, err := h.Lifecycle.GetByRoom(c.Request.Context(), actor(c), room); err != nil {
		writeCallsError(c, err)
		return
	}
	s, err := h.Lifecycle.EndByRoom(c.Request.Context(), room)
	if err != nil {
		writeCallsError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// MarkAnsweredByRoom records the first media on a ringing outbound call.
func (h Handlers) MarkAnsweredByRoom(c *gin.Context) {
	if h.Lifecycle == nil {
		notConfigured(c, "sessions")
		return
	}
	s, err := h.Lifecycle.MarkAnswered(c.Request.Context(), c.Param("room"))
	if err != nil {
		writeCallsError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

/* ===================== TRANSCRIPTS ===================== */

type transcriptRequest struct {
	Speaker sessions.Speaker `json:"speaker"`
	Content string           `json:"content"`
}

func (h Handlers) ListTranscripts(c *gin.Context) {
	if h.Lifecycle == nil || h.Sessions == nil {
		notConfigured(c, "sessions")
		return
	}
	s, err := h.Lifecycle.Get(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeCallsError(c, err)
		return
	}
	lines, err := h.Sessions.Transcripts(c.Request.Context(), s.ID)
	if err != nil {
		internalError(c, "transcript lookup failed", err)
		return
	}
	if lines == nil {
		lines = []sessions.Transcript{}
	}
	c.JSON(http.StatusOK, lines)
}

func (h Handlers) AddTranscript(c *gin.Context) {
	if h.Lifecycle == nil {
		notConfigured(c, "sessions")
		return
	}
	s, err := h.Lifecycle.Get(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeCallsError(c, err)
		return
	}
	h.appendTranscript(c, s)
}

func (h Handlers) AddTranscriptByRoom(c *gin.Context) {
	if h.Lifecycle == nil {
		notConfigured(c, "sessions")
		return
	}
	s, err := h.Lifecycle.GetByRoom(c.Request.Context(), actor(c), c.Param("room"))
	if err != nil {
		writeCallsError(c, err)
		return
	}
	h.appendTranscript(c, s)
}

func (h Handlers) appendTranscript(c *gin.Context, s sessions.Session) {
	var req transcriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := h.Lifecycle.AppendTranscript(c.Request.Context(), s, req.Speaker, req.Content)
	if err != nil {
		if errors.Is(err, calls.ErrInvalidArgument) {
			abort(c, http.StatusBadRequest, "speaker must be USER or AGENT and content is required")
			return
		}
		internalError(c, "transcript write failed", err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

/* ===================== COSTS ===================== */

type costBreakdownResponse struct {
	SessionID  string                     `json:"session_id"`
	TotalCost  decimal.Decimal            `json:"total_cost"`
	CostByType map[string]decimal.Decimal `json:"cost_by_type"`
	Events     []usage.Event              `json:"events"`
}

// GetSessionCostBreakdown reports the settled total when present and the live sum otherwise.
func (h Handlers) GetSessionCostBreakdown(c *gin.Context) {
	if h.Lifecycle == nil || h.UsageEvents == nil {
		notConfigured(c, "costs")
		return
	}
	s, err := h.Lifecycle.Get(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeCallsError(c, err)
		return
	}
	events, err := h.UsageEvents.ListBySession(c.Request.Context(), s.ID)
	if err != nil {
		internalError(c, "usage lookup failed", err)
		return
	}
	if events == nil {
		events = []usage.Event{}
	}
	total, b := costs.Breakdown(events)
	if s.TotalCost != nil {
		total = *s.TotalCost
	}
	c.JSON(http.StatusOK, costBreakdownResponse{SessionID: s.ID, TotalCost: total, CostByType: b.ByType, Events: events})
}
