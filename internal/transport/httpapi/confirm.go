package httpapi

import (
	"net/http"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/confirm"
)

type sendCodeRequest struct {
	Flow   string `json:"flow" validate:"required,oneof=email phone"`
	Target string `json:"target" validate:"required"`
	Salt   string `json:"salt"`
}

type verifyCodeRequest struct {
	sendCodeRequest
	Code string `json:"code" validate:"required"`
}

type sendCodeResponse struct {
	Message        string `json:"message"`
	ExpirationTime int64  `json:"expiration_time"`
}

type verifyCodeResponse struct {
	Message          string `json:"message"`
	UserID           int64  `json:"user_id"`
	EmailConfirmed   bool   `json:"email_confirmed"`
	Access           string `json:"access,omitempty"`
	Refresh          string `json:"refresh,omitempty"`
	AccessExpiresAt  int64  `json:"access_expires_at,omitempty"`
	RefreshExpiresAt int64  `json:"refresh_expires_at,omitempty"`
}

func (s *server) sendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.Confirm.Send(r.Context(), confirm.SendRequest{
		Flow:   domain.ConfirmationFlow(req.Flow),
		Target: req.Target,
		Salt:   req.Salt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sendCodeResponse{
		Message:        "Message sent successfully",
		ExpirationTime: entry.ExpiresAt.Unix(),
	})
}

// verifyCode проверяет код. Для email-сценария подтверждается адрес текущего пользователя,
// если запрос аутентифицирован.
func (s *server) verifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	verify := confirm.VerifyRequest{
		Flow:   domain.ConfirmationFlow(req.Flow),
		Target: req.Target,
		Salt:   req.Salt,
		Code:   req.Code,
	}
	if p, ok := principalFrom(r.Context()); ok {
		verify.UserID = p.UserID
	}

	result, err := s.Confirm.Verify(r.Context(), verify)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := verifyCodeResponse{
		Message:        "Code is valid",
		UserID:         result.User.ID,
		EmailConfirmed: result.User.EmailConfirmed,
	}
	if result.Tokens != nil {
		resp.Access = result.Tokens.Access
		resp.Refresh = result.Tokens.Refresh
		resp.AccessExpiresAt = result.Tokens.AccessExpiresAt.Unix()
		resp.RefreshExpiresAt = result.Tokens.RefreshExpiresAt.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}
