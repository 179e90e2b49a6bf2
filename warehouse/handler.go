// Package warehouse serves pallet and package inventory.
package warehouse

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dockside/warehouse/backend/httpx"
	"github.com/dockside/warehouse/backend/internal/timeutil"
	"github.com/dockside/warehouse/backend/rbac"
)

// Repository is the persistence used by the handler.
type Repository interface {
	ListPallets(ctx context.Context) ([]Pallet, error)
	CreatePallet(ctx context.Context, in PalletInput) (Pallet, error)
	Pallet(ctx context.Context, id int64) (PalletDetail, error)
	ListPackages(ctx context.Context, filter PackageFilter) ([]Package, error)
	CreatePackage(ctx context.Context, in PackageInput) (Package, error)
	PackageByTracking(ctx context.Context, trackingNumber string) (Package, error)
}

// Handler provides inventory endpoints.
type Handler struct {
	repo   Repository
	logger *zap.Logger
}

// NewHandler creates a warehouse handler.
func NewHandler(repo Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// Routes registers warehouse routes.
func (h *Handler) Routes(enforcer *rbac.Enforcer) chi.Router {
	r := chi.NewRouter()
	r.With(enforcer.Authorize(rbac.CapabilityViewPallets)).Get("/pallets", h.listPallets)
	r.With(enforcer.Authorize(rbac.CapabilityManagePallets)).Post("/pallets", h.createPallet)
	r.With(enforcer.Authorize(rbac.CapabilityViewPallets)).Get("/pallets/{palletID}", h.getPallet)

	r.With(enforcer.Authorize(rbac.CapabilityViewPackages)).Get("/packages", h.listPackages)
	r.With(enforcer.Authorize(rbac.CapabilityManagePackages)).Post("/packages", h.createPackage)
	r.With(enforcer.Authorize(rbac.CapabilityViewPackages)).Get("/packages/{trackingNumber}", h.getPackage)
	return r
}

func (h *Handler) listPallets(w http.ResponseWriter, r *http.Request) {
	pallets, err := h.repo.ListPallets(r.Context())
	if err != nil {
		h.fail(w, err, "failed to list pallets")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pallets)
}

func (h *Handler) createPallet(w http.ResponseWriter, r *http.Request) {
	var payload PalletInput
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if fields := payload.Validate(); len(fields) > 0 {
		httpx.ValidationFailed(w, fields)
		return
	}

	pallet, err := h.repo.CreatePallet(r.Context(), payload)
	if err != nil {
		h.fail(w, err, "failed to create pallet")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, pallet)
}

func (h *Handler) getPallet(w http.ResponseWriter, r *http.Request) {
	palletID, err := strconv.ParseInt(chi.URLParam(r, "palletID"), 10, 64)
	if err != nil || palletID <= 0 {
		httpx.Error(w, http.StatusBadRequest, "invalid pallet id")
		return
	}

	pallet, err := h.repo.Pallet(r.Context(), palletID)
	if err != nil {
		h.fail(w, err, "failed to load pallet")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pallet)
}

func (h *Handler) listPackages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := PackageFilter{Status: query.Get("status")}
	if filter.Status != "" && !ValidPackageStatus(filter.Status) {
		httpx.Error(w, http.StatusBadRequest, "unknown package status")
		return
	}

	since, err := timeutil.ParseOptionalTimestamp(query.Get("since"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "since must be a timestamp or date")
		return
	}
	filter.Since = since

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 1000 {
			httpx.Error(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		filter.Limit = limit
	}

	packages, err := h.repo.ListPackages(r.Context(), filter)
	if err != nil {
		h.fail(w, err, "failed to list packages")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, packages)
}

func (h *Handler) createPackage(w http.ResponseWriter, r *http.Request) {
	var payload PackageInput
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if fields := payload.Validate(); len(fields) > 0 {
		httpx.ValidationFailed(w, fields)
		return
	}

	pkg, err := h.repo.CreatePackage(r.Context(), payload)
	if err != nil {
		h.fail(w, err, "failed to create package")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, pkg)
}

func (h *Handler) getPackage(w http.ResponseWriter, r *http.Request) {
	tracking := NormalizeTracking(chi.URLParam(r, "trackingNumber"))
	if tracking == "" {
		httpx.Error(w, http.StatusBadRequest, "invalid tracking number")
		return
	}

	pkg, err := h.repo.PackageByTracking(r.Context(), tracking)
	if err != nil {
		h.fail(w, err, "failed to load package")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pkg)
}

func (h *Handler) fail(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, ErrPalletNotFound):
		httpx.Error(w, http.StatusNotFound, "pallet not found")
	case errors.Is(err, ErrPackageNotFound):
		httpx.Error(w, http.StatusNotFound, "package not found")
	case errors.Is(err, ErrDuplicate):
		httpx.Error(w, http.StatusConflict, "already exists")
	default:
		h.logger.Error(message, zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, message)
	}
}
