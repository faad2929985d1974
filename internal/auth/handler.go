package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/heartlink/backend/internal/httpx"
	"github.com/heartlink/backend/internal/otp"
)

type Handler struct {
	svc Service
	otp *otp.Service
	log *slog.Logger
}

func NewHandler(svc Service, otpSvc *otp.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, otp: otpSvc, log: log}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type otpRequest struct {
	Email string `json:"email"`
	Type  string `json:"type"`
	Code  string `json:"code,omitempty"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Email == "" || len(req.Password) < 8 || req.Name == "" {
		httpx.WriteError(w, http.StatusBadRequest, "email, name and a password of at least 8 characters are required")
		return
	}
	user, err := h.svc.Register(r.Context(), req.Email, req.Password, req.Name)
	switch {
	case errors.Is(err, otp.ErrNotFound):
		httpx.WriteError(w, http.StatusForbidden, "email not verified")
	case errors.Is(err, otp.ErrExpired):
		httpx.WriteError(w, http.StatusForbidden, "email verification expired, request a new code")
	case errors.Is(err, ErrDuplicateEmail):
		httpx.WriteError(w, http.StatusConflict, "email already registered")
	case err != nil:
		h.log.Error("register failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "registration failed")
	default:
		httpx.WriteJSON(w, http.StatusCreated, user)
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		h.log.Error("login failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "login failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) IssueOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Email == "" {
		httpx.WriteError(w, http.StatusBadRequest, "email is required")
		return
	}
	err := h.otp.Issue(r.Context(), req.Email, req.Type)
	if errors.Is(err, otp.ErrUnknownType) {
		httpx.WriteError(w, http.StatusBadRequest, "unknown verification type")
		return
	}
	if err != nil {
		h.log.Error("otp issue failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "could not issue verification code")
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	err := h.otp.Verify(r.Context(), req.Email, req.Type, req.Code)
	var invalid *otp.InvalidCodeError
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "verified"})
	case errors.As(err, &invalid):
		httpx.WriteJSON(w, http.StatusUnauthorized, map[string]any{
			"error":              "invalid code",
			"remaining_attempts": invalid.RemainingAttempts,
		})
	case errors.Is(err, otp.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "no verification pending")
	case errors.Is(err, otp.ErrExpired):
		httpx.WriteError(w, http.StatusGone, "verification code expired")
	case errors.Is(err, otp.ErrAttemptsExhausted):
		httpx.WriteError(w, http.StatusTooManyRequests, "verification attempts exhausted")
	default:
		h.log.Error("otp verify failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "verification failed")
	}
}

