package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin    = "admin"
	RoleMerchant = "merchant"
	RoleCustomer = "customer"
	// RoleService is given to callers authenticated by API key.
	RoleService = "service"
)

var validRoles = map[string]bool{
	RoleAdmin:    true,
	RoleMerchant: true,
	RoleCustomer: true,
	RoleService:  true,
}

func IsValidRole(role string) bool {
	return validRoles[role]
}

// TokenGenerator creates and validates access tokens.
type TokenGenerator interface {
	GenerateAccessToken(userID, role string) (token string, expiresAt time.Time, err error)
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims represents JWT token claims
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type JWTTokenGenerator struct {
	Secret         []byte
	Issuer         string
	AccessTokenTTL time.Duration
	now            func() time.Time
}

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrInvalidRole   = errors.New("invalid role")
)
