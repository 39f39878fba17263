package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
	// TokenTypeService is held by the media worker; it carries a role but no user.
	TokenTypeService TokenType = "service"
)

// Claims are the only supported JWT claims shape for this service.
// Sessions, agents and wallets are owned by UserID; service tokens act on records by room name.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id,omitempty"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
