// Package feedback collects dashboard feedback and issue reports.
package feedback

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dockside/warehouse/backend/auth"
	"github.com/dockside/warehouse/backend/httpx"
	"github.com/dockside/warehouse/backend/rbac"
)

// Repository is the persistence used by the handler.
type Repository interface {
	Create(ctx context.Context, sub Submission) (Submission, error)
	List(ctx context.Context, kind string) ([]Submission, error)
	SetStatus(ctx context.Context, id uuid.UUID, status, by string) (Submission, error)
}

// Handler exposes feedback endpoints.
type Handler struct {
	repo     Repository
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler creates a feedback handler. notifier may be nil.
func NewHandler(repo Repository, notifier Notifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, notifier: notifier, logger: logger, now: time.Now}
}

// Routes registers feedback routes.
func (h *Handler) Routes(enforcer *rbac.Enforcer) chi.Router {
	r := chi.NewRouter()
	r.With(enforcer.Authorize(rbac.CapabilitySubmitFeedback)).Post("/", h.submit)
	r.With(enforcer.Authorize(rbac.CapabilityViewFeedback)).Get("/", h.list)
	r.With(enforcer.Authorize(rbac.CapabilityViewIssues)).Get("/issues", h.listIssues)
	r.With(enforcer.Authorize(rbac.CapabilityManageIssues)).Patch("/{feedbackID}", h.setStatus)
	return r
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var payload Input
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	sub, fields := Validate(payload)
	if len(fields) > 0 {
		httpx.ValidationFailed(w, fields)
		return
	}
	sub.ID = uuid.New()
	sub.SubmittedBy = auth.FromContext(r.Context()).Key()
	sub.CreatedAt = h.now().UTC()

	created, err := h.repo.Create(r.Context(), sub)
	if err != nil {
		h.logger.Error("store feedback", zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed to store feedback")
		return
	}

	if created.Kind == KindIssue && h.notifier != nil {
		if err := h.notifier.IssueReported(r.Context(), created); err != nil {
			h.logger.Warn("issue notification failed", zap.Stringer("id", created.ID), zap.Error(err))
		}
	}
	httpx.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	kind := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("kind")))
	if kind != "" && kind != KindFeedback && kind != KindIssue {
		httpx.Error(w, http.StatusBadRequest, "kind must be feedback or issue")
		return
	}
	h.writeList(w, r, kind)
}

func (h *Handler) listIssues(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, r, KindIssue)
}

func (h *Handler) writeList(w http.ResponseWriter, r *http.Request, kind string) {
	subs, err := h.repo.List(r.Context(), kind)
	if err != nil {
		h.logger.Error("list feedback", zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed to list feedback")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, subs)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "feedbackID"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid feedback id")
		return
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	status := strings.ToLower(strings.TrimSpace(payload.Status))
	if status != StatusOpen && status != StatusResolved {
		httpx.ValidationFailed(w, []httpx.FieldError{{Field: "status", Message: "must be open or resolved"}})
		return
	}

	sub, err := h.repo.SetStatus(r.Context(), id, status, auth.FromContext(r.Context()).Key())
	if errors.Is(err, ErrNotFound) {
		httpx.Error(w, http.StatusNotFound, "feedback not found")
		return
	}
	if err != nil {
		h.logger.Error("update feedback", zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed to update feedback")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sub)
}
