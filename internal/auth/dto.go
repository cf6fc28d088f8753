package auth

import (
	"time"

	"github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/core/common/validation"
)

// IssueTokenRequest asks for an access token on behalf of user_id.
type IssueTokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (d IssueTokenRequest) Validate() error {
	validator := validation.NewValidator()
	validator.Field("user_id", d.UserID).Required().MaxLength(128)
	validator.Field("role", d.Role).Required().OneOf([]string{RoleAdmin, RoleMerchant, RoleCustomer}, internal.ErrCodeInsufficientRole)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}
