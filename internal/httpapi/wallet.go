package httpapi

import (
	"errors"
	"net/http"

	"voice-platform/internal/auth"
	"voice-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

func (h Handlers) GetWalletBalance(c *gin.Context) {
	if h.Wallet == nil {
		notConfigured(c, "wallet")
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	bal, err := h.Wallet.GetBalance(c.Request.Context(), userID)
	if err != nil {
		internalError(c, "balance lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

// AdminCreditWallet posts a manual credit on behalf of an operator.
// Route guards restrict it to owner and super_admin.
func (h Handlers) AdminCreditWallet(c *gin.Context) {
	if h.Wallet == nil {
		notConfigured(c, "wallet")
		return
	}
	adminID, ok := requireUser(c)
	if !ok {
		return
	}
	role, _ := auth.Role(c.Request.Context())

	var req wallet.AdminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	withClientIP(c)
	ctx := c.Request.Context()

	action, entry, bal, err := h.Wallet.AdminManualCredit(ctx, adminID, role, req)
	if err != nil {
		if errors.Is(err, wallet.ErrInvalidArgument) {
			abort(c, http.StatusBadRequest, "user_id, positive amount, reason and idempotency_key required")
			return
		}
		internalError(c, "credit failed", err)
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogAdminAction(ctx, req.UserID, adminID, role, "manual credit", action.WalletID, action.Metadata); err != nil {
			internalError(c, "audit write failed", err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"action": action, "ledger_entry": entry, "balance": bal})
}
