// Package httpapi holds the HTTP handlers of the public API.
// Keep these thin: parse and validate input, call internal services, return JSON.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"voice-platform/internal/agents"
	"voice-platform/internal/audit"
	"voice-platform/internal/auth"
	"voice-platform/internal/calls"
	"voice-platform/internal/pricing"
	"voice-platform/internal/reporting"
	"voice-platform/internal/sessions"
	"voice-platform/internal/telephony"
	"voice-platform/internal/transfer"
	"voice-platform/internal/usage"
	"voice-platform/internal/voices"
	"voice-platform/internal/wallet"
	"voice-platform/internal/webhook"
	"voice-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// A nil dependency turns its routes into 500 "not configured" responses.
type Handlers struct {
	Sessions     sessions.Store
	Lifecycle    *calls.Lifecycle
	Orchestrator *calls.Orchestrator
	Transfers    *calls.Transfers
	Usage        *usage.Recorder
	UsageEvents  usage.Repository
	Costs        *reporting.Service
	Pricing      *pricing.Service
	Agents       *agents.Service
	Webhooks     *webhook.Dispatcher
	Tokens       *telephony.TokenIssuer
	Voices       *voices.Catalog
	Wallet       *wallet.Service
	Audit        AdminAuditor
}

// AdminAuditor records privileged wallet changes.
type AdminAuditor interface {
	LogAdminAction(ctx context.Context, userID, actorUserID, actorRole, message, walletID, metadata string) error
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Check reports whether one backing dependency is reachable.
type Check func(ctx context.Context) error

// Ready runs every check and answers 503 naming the first dependency that fails.
func Ready(checks map[string]Check) gin.HandlerFunc {
	return func(c *gin.Context) {
		for name, check := range checks {
			if err := check(c.Request.Context()); err != nil {
				logger.FromGin(c).Warn("readiness check failed", "dependency", name, "error", err)
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "dependency": name})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

/* ===================== HELPERS ===================== */

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func notConfigured(c *gin.Context, what string) {
	abort(c, http.StatusInternalServerError, what+" not configured")
}

func internalError(c *gin.Context, msg string, err error) {
	logger.FromGin(c).Error(msg, "error", err)
	abort(c, http.StatusInternalServerError, msg)
}

// actor is the caller identity placed in the request context by the auth middleware.
func actor(c *gin.Context) calls.Actor {
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	return calls.Actor{UserID: uid, Role: role, Service: auth.IsService(ctx)}
}

func requireUser(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		abort(c, http.StatusUnauthorized, "user_id required")
		return "", false
	}
	return uid, true
}

// withClientIP records the caller address for audit events written during the request.
func withClientIP(c *gin.Context) {
	c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

// queryTime parses RFC 3339 or a plain date. Invalid values are ignored.
func queryTime(c *gin.Context, key string) time.Time {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// writeCallsError maps call orchestration errors to the public envelope.
func writeCallsError(c *gin.Context, err error) {
	var te *calls.TransferError
	switch {
	case errors.Is(err, calls.ErrInvalidNumber):
		abort(c, http.StatusUnprocessableEntity, "Invalid phone number. Must be in E.164 format (e.g. +15551234567)")
	case errors.Is(err, calls.ErrInvalidTransferType):
		abort(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, calls.ErrInvalidArgument):
		abort(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, calls.ErrAgentNotFound):
		abort(c, http.StatusNotFound, "Agent not found or does not belong to user")
	case errors.Is(err, calls.ErrSessionNotFound):
		abort(c, http.StatusNotFound, "Session not found")
	case errors.Is(err, calls.ErrSessionNotActive):
		abort(c, http.StatusBadRequest, "Session is not active")
	case errors.Is(err, calls.ErrAlreadyTransferred):
		abort(c, http.StatusBadRequest, "Session has already been transferred")
	case errors.Is(err, calls.ErrTransferInProgress), errors.Is(err, calls.ErrRoomExists):
		abort(c, http.StatusConflict, err.Error())
	case errors.Is(err, calls.ErrInsufficientBalance):
		abort(c, http.StatusPaymentRequired, "insufficient balance")
	case errors.Is(err, calls.ErrTooManyCalls):
		abort(c, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, calls.ErrNotConfigured):
		abort(c, http.StatusInternalServerError, "telephony provider not configured")
	case errors.As(err, &te):
		status := http.StatusBadGateway
		if te.Result.Failure == transfer.FailureNotConfigured {
			status = http.StatusInternalServerError
		}
		abort(c, status, te.Result.Message)
	case errors.Is(err, calls.ErrDialFailed):
		abort(c, http.StatusBadGateway, err.Error())
	default:
		internalError(c, "internal error", err)
	}
}
