package rbac

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dockside/warehouse/backend/auth"
	"github.com/dockside/warehouse/backend/httpx"
)

// AccountStore is the persistence used by the admin handler.
type AccountStore interface {
	ListAccounts(ctx context.Context, pendingOnly bool) ([]Account, error)
	Approve(ctx context.Context, accountID int64) (Account, error)
	SetRole(ctx context.Context, accountID int64, role Role, permissions []string) (Account, error)
}

// Handler exposes account approval and role assignment.
type Handler struct {
	store     AccountStore
	publisher auth.Publisher
	logger    *zap.Logger
}

// NewHandler creates an admin handler. Changes are announced through the
// publisher so live sessions pick up the new role.
func NewHandler(store AccountStore, publisher auth.Publisher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, publisher: publisher, logger: logger}
}

// Routes registers account administration routes.
func (h *Handler) Routes(enforcer *Enforcer) chi.Router {
	r := chi.NewRouter()
	r.Use(enforcer.Authorize(CapabilityManageUsers))
	r.Get("/", h.listAccounts)
	r.Post("/{accountID}/approve", h.approveAccount)
	r.Put("/{accountID}/role", h.setRole)
	return r
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	pendingOnly := r.URL.Query().Get("status") == "pending"
	accounts, err := h.store.ListAccounts(r.Context(), pendingOnly)
	if err != nil {
		h.logger.Error("list accounts", zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, accounts)
}

func (h *Handler) approveAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := parseAccountID(w, r)
	if !ok {
		return
	}

	account, err := h.store.Approve(r.Context(), accountID)
	if err != nil {
		h.writeStoreError(w, err, "failed to approve account")
		return
	}

	h.announce(r.Context(), account)
	httpx.WriteJSON(w, http.StatusOK, account)
}

func (h *Handler) setRole(w http.ResponseWriter, r *http.Request) {
	accountID, ok := parseAccountID(w, r)
	if !ok {
		return
	}

	var payload struct {
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
	}
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	role, err := ParseRole(payload.Role)
	if err != nil {
		httpx.ValidationFailed(w, []httpx.FieldError{{Field: "role", Message: "unknown role"}})
		return
	}
	if role == RoleSuperAdmin {
		httpx.ValidationFailed(w, []httpx.FieldError{{Field: "role", Message: "super_admin is assigned by configuration"}})
		return
	}

	account, err := h.store.SetRole(r.Context(), accountID, role, payload.Permissions)
	if err != nil {
		h.writeStoreError(w, err, "failed to update role")
		return
	}

	h.announce(r.Context(), account)
	httpx.WriteJSON(w, http.StatusOK, account)
}

func (h *Handler) announce(ctx context.Context, account Account) {
	if h.publisher == nil {
		return
	}
	identity := account.Identity()
	if err := h.publisher.Publish(ctx, identity.Key(), identity); err != nil {
		h.logger.Warn("identity publish failed", zap.String("email", account.Email), zap.Error(err))
	}
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, ErrAccountNotFound) {
		httpx.Error(w, http.StatusNotFound, "account not found")
		return
	}
	h.logger.Error(message, zap.Error(err))
	httpx.Error(w, http.StatusInternalServerError, message)
}

func parseAccountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Error(w, http.StatusBadRequest, "invalid account id")
		return 0, false
	}
	return id, true
}
