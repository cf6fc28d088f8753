package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/frahmantamala/payment-gateway/internal"
)

type ServiceAPI interface {
	AuthenticateToken(tokenString string) (*internal.User, error)
	AuthenticateAPIKey(apiKey string) (*internal.User, error)
	IssueToken(userID, role string) (string, time.Time, error)
}

// Service authenticates API callers by bearer token or API key.
type Service struct {
	tokenGenerator TokenGenerator
	apiKeyHashes   [][]byte
	logger         *slog.Logger
}

// NewService creates a new auth service. apiKeyHashes are bcrypt hashes of the
// accepted API keys; an empty list disables API key authentication.
func NewService(tokenGen TokenGenerator, apiKeyHashes []string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	hashes := make([][]byte, 0, len(apiKeyHashes))
	for _, h := range apiKeyHashes {
		if h = strings.TrimSpace(h); h != "" {
			hashes = append(hashes, []byte(h))
		}
	}
	return &Service{
		tokenGenerator: tokenGen,
		apiKeyHashes:   hashes,
		logger:         logger,
	}
}

// NewJWTTokenGenerator creates a new JWT token generator
func NewJWTTokenGenerator(secret, issuer string, ttl time.Duration) *JWTTokenGenerator {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &JWTTokenGenerator{
		Secret:         []byte(secret),
		Issuer:         issuer,
		AccessTokenTTL: ttl,
		now:            time.Now,
	}
}

func (s *Service) AuthenticateToken(tokenString string) (*internal.User, error) {
	claims, err := s.tokenGenerator.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &internal.User{ID: claims.UserID, Role: claims.Role}, nil
}

// AuthenticateAPIKey checks apiKey against every configured hash. A match yields a
// service principal named after the key's hash position.
func (s *Service) AuthenticateAPIKey(apiKey string) (*internal.User, error) {
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}
	for i, hash := range s.apiKeyHashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(apiKey)) == nil {
			return &internal.User{ID: fmt.Sprintf("api-key-%d", i+1), Role: RoleService}, nil
		}
	}
	return nil, ErrInvalidAPIKey
}

func (s *Service) IssueToken(userID, role string) (string, time.Time, error) {
	if !IsValidRole(role) {
		return "", time.Time{}, ErrInvalidRole
	}
	token, expiresAt, err := s.tokenGenerator.GenerateAccessToken(userID, role)
	if err != nil {
		return "", time.Time{}, err
	}
	s.logger.Info("access token issued", "user_id", userID, "role", role, "expires_at", expiresAt)
	return token, expiresAt, nil
}

// GenerateAccessToken creates a new access token
func (j *JWTTokenGenerator) GenerateAccessToken(userID, role string) (string, time.Time, error) {
	now := j.now()
	expiresAt := now.Add(j.AccessTokenTTL)

	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.Issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.Secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// ValidateToken validates a JWT token and returns claims
func (j *JWTTokenGenerator) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	}
	if j.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return j.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" || !IsValidRole(claims.Role) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashAPIKey creates the bcrypt hash stored in security.api_key_hashes.
func HashAPIKey(apiKey string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// GenerateRandomToken generates a cryptographically secure random token
func GenerateRandomToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
