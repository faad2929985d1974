package topup

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/heartlink/backend/internal/catalog"
	"github.com/heartlink/backend/internal/httpx"
	"github.com/heartlink/backend/internal/middleware"
	"github.com/heartlink/backend/internal/models"
	"github.com/heartlink/backend/internal/wallet"
)

// PackageLister exposes the purchasable catalog.
type PackageLister interface {
	ListPackages(ctx context.Context) ([]*models.CreditPackage, error)
}

type Handler struct {
	svc      *Service
	packages PackageLister
	log      *slog.Logger
}

func NewHandler(svc *Service, packages PackageLister, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, packages: packages, log: log}
}

type createRequest struct {
	PackageID     uuid.UUID `json:"package_id"`
	PaymentMethod string    `json:"payment_method"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.PackageID == uuid.Nil || req.PaymentMethod == "" {
		httpx.WriteError(w, http.StatusBadRequest, "package_id and payment_method are required")
		return
	}
	created, err := h.svc.Create(r.Context(), id.UserID, req.PackageID, req.PaymentMethod)
	if errors.Is(err, catalog.ErrPackageNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "credit package not found")
		return
	}
	if err != nil {
		h.log.Error("create top-up failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "could not create top-up request")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	requestID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	err = h.svc.Cancel(r.Context(), requestID, id.UserID)
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "top-up request not found")
	case errors.Is(err, ErrNotOwner):
		httpx.WriteError(w, http.StatusForbidden, "not the request owner")
	case errors.Is(err, ErrAlreadyResolved):
		httpx.WriteError(w, http.StatusConflict, "request already resolved")
	case err != nil:
		h.log.Error("cancel top-up failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "cancel failed")
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": models.TopUpCancelled})
	}
}

// ListMine returns the caller's own requests, optionally filtered by status.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.list(w, r, ListFilter{UserID: id.UserID, Status: r.URL.Query().Get("status")})
}

// ListAll is the admin listing across users.
func (h *Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, ListFilter{Status: r.URL.Query().Get("status")})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, f ListFilter) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	result, err := h.svc.List(r.Context(), f, page, perPage)
	if err != nil {
		h.log.Error("list top-ups failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "could not load top-up requests")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.Counts(r.Context())
	if err != nil {
		h.log.Error("top-up counts failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "could not load counts")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, counts)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	requestID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	result, err := h.svc.Approve(r.Context(), requestID, id.UserID, id.Role)
	switch {
	case errors.Is(err, wallet.ErrUnauthorized):
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "top-up request not found")
	case errors.Is(err, catalog.ErrPackageNotFound):
		httpx.WriteError(w, http.StatusConflict, "credit package no longer available")
	case errors.Is(err, ErrAlreadyResolved):
		httpx.WriteError(w, http.StatusConflict, "request already resolved")
	case err != nil:
		h.log.Error("approve top-up failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "approve failed")
	default:
		httpx.WriteJSON(w, http.StatusOK, result)
	}
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	requestID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	err = h.svc.Reject(r.Context(), requestID, id.UserID, id.Role, req.Reason)
	switch {
	case errors.Is(err, wallet.ErrUnauthorized):
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "top-up request not found")
	case errors.Is(err, ErrAlreadyResolved):
		httpx.WriteError(w, http.StatusConflict, "request already resolved")
	case err != nil:
		h.log.Error("reject top-up failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "reject failed")
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": models.TopUpRejected})
	}
}

// Packages lists the active credit packages a user can request.
func (h *Handler) Packages(w http.ResponseWriter, r *http.Request) {
	list, err := h.packages.ListPackages(r.Context())
	if err != nil {
		h.log.Error("list packages failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "could not load packages")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

