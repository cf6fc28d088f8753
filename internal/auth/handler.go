package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/transport"
	"github.com/frahmantamala/payment-gateway/pkg/logger"
)

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(svc ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
	}
}

// IssueToken handles POST /api/v1/auth/token. Only admins and API-key callers reach
// it; they mint short-lived tokens for merchants and customers.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	caller, _ := internal.UserFromContext(r.Context())

	var dto IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.HandleError(w, internal.NewValidationError("invalid request body", internal.ErrCodeValidationFailed))
		return
	}
	if err := dto.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	token, expiresAt, err := h.Service.IssueToken(dto.UserID, dto.Role)
	if err != nil {
		h.Logger.Error("failed to issue token", "error", err, "user_id", dto.UserID)
		h.HandleServiceError(w, err)
		return
	}

	if caller != nil {
		h.Logger.Info("token issued", "issued_by", caller.ID, "user_id", dto.UserID, "role", dto.Role)
	}

	h.WriteJSON(w, http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
	})
}
