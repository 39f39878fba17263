package httpapi

import (
	"errors"
	"net/http"

	"voice-platform/internal/agents"
	"voice-platform/internal/webhook"

	"github.com/gin-gonic/gin"
)

func writeAgentsError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, agents.ErrNotFound):
		abort(c, http.StatusNotFound, "Agent not found")
	case errors.Is(err, agents.ErrInvalidArgument):
		abort(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, agents.ErrNumberAssigned), errors.Is(err, agents.ErrNoNumber):
		abort(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, agents.ErrNumberInUse), errors.Is(err, agents.ErrConflict):
		abort(c, http.StatusConflict, err.Error())
	default:
		internalError(c, "agent operation failed", err)
	}
}

func (h Handlers) ListAgents(c *gin.Context) {
	if h.Agents == nil {
		notConfigured(c, "agents")
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	list, err := h.Agents.List(c.Request.Context(), userID)
	if err != nil {
		writeAgentsError(c, err)
		return
	}
	if list == nil {
		list = []agents.Agent{}
	}
	c.JSON(http.StatusOK, list)
}

func (h Handlers) GetAgent(c *gin.Context) {
	if h.Agents == nil {
		notConfigured(c, "agents")
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	a, err := h.Agents.GetOwned(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeAgentsError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) CreateAgent(c *gin.Context) {
	if h.Agents == nil {
		notConfigured(c, "agents")
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req agents.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	a, err := h.Agents.Create(c.Request.Context(), userID, req)
	if err != nil {
		writeAgentsError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

type assignNumberRequest struct {
	PhoneNumber string `json:"phone_number"`
}

func (h Handlers) AssignNumber(c *gin.Context) {
	if h.Agents == nil {
		notConfigured(c, "agents")
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req assignNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	a, err := h.Agents.AssignNumber(c.Request.Context(), userID, c.Param("id"), req.PhoneNumber)
	if err != nil {
		writeAgentsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "assigned", "agent_id": a.ID, "phone_number": a.PhoneNumber})
}

func (h Handlers) ReleaseNumber(c *gin.Context) {
	if h.Agents == nil {
		notConfigured(c, "agents")
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	prev, err := h.Agents.GetOwned(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeAgentsError(c, err)
		return
	}
	if _, err := h.Agents.ReleaseNumber(c.Request.Context(), userID, prev.ID); err != nil {
		writeAgentsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "released", "phone_number": prev.PhoneNumber})
}

// LookupNumber lets the media worker find the agent answering a dialed number.
func (h Handlers) LookupNumber(c *gin.Context) {
	if h.Agents == nil {
		notConfigured(c, "agents")
		return
	}
	phone := c.Query("phone_number")
	if phone == "" {
		abort(c, http.StatusBadRequest, "phone_number required")
		return
	}
	a, err := h.Agents.FindByPhone(c.Request.Context(), phone)
	if err != nil {
		if errors.Is(err, agents.ErrNotFound) {
			abort(c, http.StatusNotFound, "No agent assigned to this number")
			return
		}
		writeAgentsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": a.ID, "user_id": a.UserID, "name": a.Name, "config": a.Config})
}

type preCallRequest struct {
	Variables map[string]string `json:"variables"`
}

// RunPreCallWebhook runs the agent's pre-call webhook with the supplied
// variables and returns the variables its assignments produced.
func (h Handlers) RunPreCallWebhook(c *gin.Context) {
	if h.Agents == nil || h.Webhooks == nil {
		notConfigured(c, "webhooks")
		return
	}
	var req preCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	a, err := h.Agents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeAgentsError(c, err)
		return
	}
	if act := actor(c); !act.Service && act.UserID != a.UserID {
		abort(c, http.StatusNotFound, "Agent not found")
		return
	}
	vars := req.Variables
	if vars == nil {
		vars = map[string]string{}
	}
	vars["agent_id"] = a.ID

	assigned, err := h.Webhooks.PreCall(c.Request.Context(), a.Webhooks().PreCall, vars)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"variables": assigned})
	case errors.Is(err, webhook.ErrDisabled):
		c.JSON(http.StatusOK, gin.H{"variables": map[string]string{}})
	default:
		abort(c, http.StatusBadGateway, err.Error())
	}
}
