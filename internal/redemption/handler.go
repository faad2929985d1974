package redemption

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/heartlink/backend/internal/httpx"
	"github.com/heartlink/backend/internal/middleware"
	"github.com/heartlink/backend/internal/wallet"
)

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		httpx.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	newBalance, err := h.svc.Redeem(r.Context(), id.UserID)
	var wait *NotYetAvailableError
	switch {
	case errors.As(err, &wait):
		httpx.WriteJSON(w, http.StatusConflict, map[string]any{
			"error":            "redemption not yet available",
			"retry_in_seconds": int(wait.Remaining.Round(time.Second).Seconds()),
		})
	case errors.Is(err, wallet.ErrWalletNotFound):
		httpx.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "wallet not found"})
	case err != nil:
		h.log.Error("redeem failed", "error", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "redemption failed"})
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"new_balance": newBalance})
	}
}
