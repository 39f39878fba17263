package wallet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"voice-platform/internal/auth"
	"voice-platform/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type fakeBalanceService struct {
	bal Balance
	err error
}

func (f fakeBalanceService) GetBalance(ctx context.Context, userID string) (Balance, error) {
	return f.bal, f.err
}

func serve(t *testing.T, role string, enforce bool, bal decimal.Decimal) int {
	t.Helper()
	typ := auth.TokenTypeAccess
	if rbac.IsServiceRole(role) {
		typ = auth.TokenTypeService
	}
	gin.SetMode(gin.TestMode)

	r := gin.New()
	svc := fakeBalanceService{bal: Balance{UserID: "u", Currency: Currency, Balance: bal}}
	r.POST("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", role, typ)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireSufficientBalance(svc, enforce), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	return w.Code
}

func TestRequireSufficientBalance_BlocksWhenEmpty(t *testing.T) {
	if code := serve(t, rbac.RoleOwner, true, decimal.Zero); code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", code)
	}
	if code := serve(t, rbac.RoleOwner, true, decimal.RequireFromString("-0.5")); code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 for overdrawn wallet, got %d", code)
	}
}

func TestRequireSufficientBalance_AllowsFundedOrBypass(t *testing.T) {
	if code := serve(t, rbac.RoleOwner, true, decimal.RequireFromString("1.25")); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := serve(t, rbac.RoleSuperAdmin, true, decimal.Zero); code != http.StatusOK {
		t.Fatalf("expected super_admin bypass, got %d", code)
	}
	if code := serve(t, rbac.RoleOwner, false, decimal.Zero); code != http.StatusOK {
		t.Fatalf("expected pass-through when not enforced, got %d", code)
	}
	if code := serve(t, rbac.RoleWorker, true, decimal.Zero); code != http.StatusOK {
		t.Fatalf("expected service bypass, got %d", code)
	}
}
