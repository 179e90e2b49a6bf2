// Package receiving runs the dock receiving workflow: open a receipt, scan
// packages onto pallets, close the receipt.
package receiving

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dockside/warehouse/backend/auth"
	"github.com/dockside/warehouse/backend/httpx"
	"github.com/dockside/warehouse/backend/rbac"
	"github.com/dockside/warehouse/backend/warehouse"
)

// Repository is the persistence used by the handler.
type Repository interface {
	Open(ctx context.Context, dock, openedBy string) (Receipt, error)
	Scan(ctx context.Context, receiptID int64, in ScanInput, scannedBy string) (Item, error)
	Close(ctx context.Context, receiptID int64) (Receipt, error)
	Receipt(ctx context.Context, receiptID int64) (Receipt, error)
	List(ctx context.Context, status string) ([]Receipt, error)
}

// Handler provides receiving endpoints.
type Handler struct {
	repo   Repository
	logger *zap.Logger
}

// NewHandler creates a receiving handler.
func NewHandler(repo Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// Routes registers receiving routes. Every route needs receiving:perform.
func (h *Handler) Routes(enforcer *rbac.Enforcer) chi.Router {
	r := chi.NewRouter()
	r.Use(enforcer.Authorize(rbac.CapabilityPerformReceiving))
	r.Get("/receipts", h.listReceipts)
	r.Post("/receipts", h.openReceipt)
	r.Get("/receipts/{receiptID}", h.getReceipt)
	r.Post("/receipts/{receiptID}/items", h.scanItem)
	r.Post("/receipts/{receiptID}/close", h.closeReceipt)
	return r
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != ReceiptOpen && status != ReceiptClosed {
		httpx.Error(w, http.StatusBadRequest, "status must be open or closed")
		return
	}

	receipts, err := h.repo.List(r.Context(), status)
	if err != nil {
		h.fail(w, err, "failed to list receipts")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, receipts)
}

func (h *Handler) openReceipt(w http.ResponseWriter, r *http.Request) {
	var payload OpenInput
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if fields := payload.Validate(); len(fields) > 0 {
		httpx.ValidationFailed(w, fields)
		return
	}

	receipt, err := h.repo.Open(r.Context(), payload.Dock, actor(r))
	if err != nil {
		h.fail(w, err, "failed to open receipt")
		return
	}
	h.logger.Info("receipt opened", zap.Int64("receipt_id", receipt.ID), zap.String("dock", receipt.Dock))
	httpx.WriteJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	receiptID, ok := parseReceiptID(w, r)
	if !ok {
		return
	}

	receipt, err := h.repo.Receipt(r.Context(), receiptID)
	if err != nil {
		h.fail(w, err, "failed to load receipt")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, receipt)
}

func (h *Handler) scanItem(w http.ResponseWriter, r *http.Request) {
	receiptID, ok := parseReceiptID(w, r)
	if !ok {
		return
	}

	var payload ScanInput
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if fields := payload.Validate(); len(fields) > 0 {
		httpx.ValidationFailed(w, fields)
		return
	}

	item, err := h.repo.Scan(r.Context(), receiptID, payload, actor(r))
	if err != nil {
		h.fail(w, err, "failed to record scan")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, item)
}

func (h *Handler) closeReceipt(w http.ResponseWriter, r *http.Request) {
	receiptID, ok := parseReceiptID(w, r)
	if !ok {
		return
	}

	receipt, err := h.repo.Close(r.Context(), receiptID)
	if err != nil {
		h.fail(w, err, "failed to close receipt")
		return
	}
	h.logger.Info("receipt closed", zap.Int64("receipt_id", receipt.ID))
	httpx.WriteJSON(w, http.StatusOK, receipt)
}

func (h *Handler) fail(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, ErrReceiptNotFound):
		httpx.Error(w, http.StatusNotFound, "receipt not found")
	case errors.Is(err, ErrReceiptClosed):
		httpx.ErrorCode(w, http.StatusConflict, "receipt is closed", "RECEIPT_CLOSED")
	case errors.Is(err, ErrAlreadyScanned):
		httpx.ErrorCode(w, http.StatusConflict, "package already scanned on this receipt", "ALREADY_SCANNED")
	case errors.Is(err, warehouse.ErrPackageNotFound):
		httpx.Error(w, http.StatusNotFound, "package not found")
	case errors.Is(err, warehouse.ErrPalletNotFound):
		httpx.Error(w, http.StatusNotFound, "pallet not found")
	default:
		h.logger.Error(message, zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, message)
	}
}

func actor(r *http.Request) string {
	return auth.FromContext(r.Context()).Key()
}

func parseReceiptID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "receiptID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Error(w, http.StatusBadRequest, "invalid receipt id")
		return 0, false
	}
	return id, true
}
