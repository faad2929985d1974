package wallet

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/heartlink/backend/internal/httpx"
	"github.com/heartlink/backend/internal/middleware"
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

func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	balances, err := h.svc.Balances(r.Context(), id.UserID)
	if errors.Is(err, ErrWalletNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "wallet not found")
		return
	}
	if err != nil {
		h.log.Error("get balances failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "could not load balances")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, balances)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	q := r.URL.Query()
	f := Filter{
		Type:       q.Get("type"),
		WalletType: q.Get("wallet"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid 'from' timestamp")
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid 'to' timestamp")
			return
		}
		f.To = t
	}
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))

	result, err := h.svc.Transactions(r.Context(), id.UserID, f, page, perPage)
	if err != nil {
		h.log.Error("list transactions failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "could not load transactions")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

type grantRequest struct {
	UserID     uuid.UUID `json:"user_id"`
	WalletType string    `json:"wallet_type"`
	Amount     int       `json:"amount"`
	Reason     string    `json:"reason"`
}

// Grant is the admin credit endpoint, capability-checked in the service.
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	newBalance, txID, err := h.svc.Grant(r.Context(), id.Role, req.UserID, req.WalletType, req.Amount, req.Reason)
	switch {
	case errors.Is(err, ErrUnauthorized):
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrInvalidMutation):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrWalletNotFound):
		httpx.WriteError(w, http.StatusNotFound, "wallet not found")
	case err != nil:
		h.log.Error("grant failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "grant failed")
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"new_balance":    newBalance,
			"transaction_id": txID,
		})
	}
}

