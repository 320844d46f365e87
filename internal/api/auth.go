package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/reborn/internal/auth"
	"github.com/ashureev/reborn/internal/metrics"
	"github.com/ashureev/reborn/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// CodeIssuer is the part of the auth service used by AuthHandler.
type CodeIssuer interface {
	SendCode(ctx context.Context, phone string) (string, error)
	VerifyCode(ctx context.Context, phone, code string) (*auth.Login, error)
}

// AuthHandler handles phone verification endpoints.
type AuthHandler struct {
	auth          CodeIssuer
	limiter       *middleware.RateLimiter
	verifyLimiter *middleware.RateLimiter
	metrics       *metrics.Metrics
	debug         bool
}

// NewAuthHandler creates an auth handler. In debug mode send-code echoes the
// code back to the caller. limiter budgets send-code and verifyLimiter budgets
// verification attempts, both per normalized phone; either may be nil.
func NewAuthHandler(svc CodeIssuer, limiter, verifyLimiter *middleware.RateLimiter, m *metrics.Metrics, debug bool) *AuthHandler {
	return &AuthHandler{auth: svc, limiter: limiter, verifyLimiter: verifyLimiter, metrics: m, debug: debug}
}

// RegisterRoutes registers the public auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/send-code", h.SendCode)
		r.Post("/verify-code", h.VerifyCode)
	})
}

type sendCodeRequest struct {
	Phone string `json:"phone"`
}

// SendCode issues a verification code for a phone number.
func (h *AuthHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	phone, err := auth.NormalizePhone(req.Phone)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.limiter != nil && !h.limiter.Allow(phone) {
		h.metrics.RecordCode("rate_limited")
		w.Header().Set("Retry-After", "60")
		Error(w, http.StatusTooManyRequests, "too many code requests, try again later")
		return
	}

	code, err := h.auth.SendCode(r.Context(), phone)
	if err != nil {
		slog.Error("Failed to send verification code", "error", err)
		h.metrics.RecordCode("error")
		Error(w, http.StatusInternalServerError, "failed to send code")
		return
	}
	h.metrics.RecordCode("sent")

	resp := map[string]string{"message": "Code sent"}
	if h.debug {
		resp["code"] = code
	}
	JSON(w, http.StatusOK, resp)
}

type verifyCodeRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// VerifyCode exchanges a verification code for an access token.
func (h *AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	phone, err := auth.NormalizePhone(req.Phone)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	// Every attempt spends budget so a short code cannot be enumerated.
	if h.verifyLimiter != nil && !h.verifyLimiter.Allow(phone) {
		slog.Warn("Verification attempts rate limited", "phone", phone)
		w.Header().Set("Retry-After", "60")
		Error(w, http.StatusTooManyRequests, "too many verification attempts, try again later")
		return
	}

	login, err := h.auth.VerifyCode(r.Context(), phone, req.Code)
	switch {
	case errors.Is(err, auth.ErrInvalidPhone):
		Error(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, auth.ErrInvalidCode), errors.Is(err, auth.ErrCodeExpired):
		Error(w, http.StatusBadRequest, "invalid or expired code")
		return
	case errors.Is(err, auth.ErrUserInactive):
		Error(w, http.StatusForbidden, "account disabled")
		return
	case err != nil:
		slog.Error("Failed to verify code", "error", err)
		Error(w, http.StatusInternalServerError, "failed to verify code")
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"access_token": login.AccessToken,
		"token_type":   "bearer",
	})
}
