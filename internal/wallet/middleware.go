package wallet

import (
	"context"
	"net/http"

	"voice-platform/internal/auth"
	"voice-platform/internal/rbac"
	"voice-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// BalanceService is the minimal wallet service interface needed by middleware.
type BalanceService interface {
	GetBalance(ctx context.Context, userID string) (Balance, error)
}

// RequireSufficientBalance blocks the request when the caller's balance is not positive.
// super_admin and service callers bypass; the worker acts on calls that were gated
// when they started. When enforce is false the middleware is a pass-through.
func RequireSufficientBalance(svc BalanceService, enforce bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enforce {
			c.Next()
			return
		}
		role, _ := auth.Role(c.Request.Context())
		if rbac.IsSuperAdmin(role) || auth.IsService(c.Request.Context()) {
			c.Next()
			return
		}

		userID, err := auth.UserID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}

		bal, err := svc.GetBalance(c.Request.Context(), userID)
		if err != nil {
			logger.FromGin(c).Error("balance lookup failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
			return
		}
		if !bal.Balance.IsPositive() {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
			return
		}

		c.Next()
	}
}
