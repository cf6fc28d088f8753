package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/transport"
	"github.com/frahmantamala/payment-gateway/pkg/logger"
)

const APIKeyHeader = "X-API-Key"

type RBACAuthorization struct {
	*transport.BaseHandler
	service ServiceAPI
}

func NewRBACAuthorization(service ServiceAPI, lg *slog.Logger) *RBACAuthorization {
	return &RBACAuthorization{
		BaseHandler: transport.NewBaseHandler(lg),
		service:     service,
	}
}

// Authenticate accepts a bearer token or an X-API-Key header and stores the caller
// in the request context.
func (ra *RBACAuthorization) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			user *internal.User
			err  error
		)

		if token := ra.ExtractTokenFromHeader(r); token != "" {
			user, err = ra.service.AuthenticateToken(token)
		} else if apiKey := strings.TrimSpace(r.Header.Get(APIKeyHeader)); apiKey != "" {
			user, err = ra.service.AuthenticateAPIKey(apiKey)
		} else {
			ra.HandleError(w, internal.NewUnauthorizedError("authentication required", internal.ErrCodeInvalidToken))
			return
		}

		if err != nil {
			ra.Logger.WarnContext(r.Context(), "authentication failed", "error", err, "path", r.URL.Path)
			ra.HandleError(w, authError(err))
			return
		}

		ctx := internal.ContextWithUser(r.Context(), user)
		ctx = logger.With(ctx, "user_id", user.ID, "role", user.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRoles lets the request through only when the caller has one of roles.
// Admins and API-key service principals pass every check.
func (ra *RBACAuthorization) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := internal.UserFromContext(r.Context())
			if !ok {
				ra.Logger.Warn("authorization check failed: user not found in context")
				ra.HandleError(w, internal.NewUnauthorizedError("authentication required", internal.ErrCodeInvalidToken))
				return
			}

			if !HasRole(user, roles...) {
				ra.Logger.WarnContext(r.Context(), "access denied: insufficient role",
					"user_id", user.ID,
					"role", user.Role,
					"required_roles", roles)
				ra.HandleError(w, internal.ErrInsufficientRole)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func HasRole(user *internal.User, roles ...string) bool {
	if user == nil {
		return false
	}
	if user.Role == RoleAdmin || user.Role == RoleService {
		return true
	}
	for _, role := range roles {
		if user.Role == role {
			return true
		}
	}
	return false
}

func authError(err error) *internal.AppError {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return internal.ErrTokenExpired
	case errors.Is(err, ErrInvalidAPIKey):
		return internal.ErrInvalidAPIKey
	default:
		return internal.ErrInvalidToken
	}
}
