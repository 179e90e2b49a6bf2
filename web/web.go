// Package web serves the dashboard's single page shell for every page route.
package web

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dockside/warehouse/backend/authstate"
	"github.com/dockside/warehouse/backend/rbac"
)

//go:embed shell/index.html
var shellFiles embed.FS

var shell = template.Must(template.ParseFS(shellFiles, "shell/index.html"))

// Page is a dashboard page. Pages with a capability are protected views.
type Page struct {
	Path       string
	Title      string
	Capability rbac.Capability
}

// ProtectedPages lists the pages wrapped by the protected-view decision.
var ProtectedPages = []Page{
	{Path: "/dashboard", Title: "Dashboard", Capability: rbac.CapabilityViewDashboard},
	{Path: "/dashboard/reports", Title: "Reports", Capability: rbac.CapabilityViewReports},
	{Path: "/packages", Title: "Packages", Capability: rbac.CapabilityViewPackages},
	{Path: "/pallets", Title: "Pallets", Capability: rbac.CapabilityViewPallets},
	{Path: "/receiving", Title: "Receiving", Capability: rbac.CapabilityPerformReceiving},
	{Path: "/feedback", Title: "Feedback", Capability: rbac.CapabilitySubmitFeedback},
	{Path: "/issues", Title: "Issues", Capability: rbac.CapabilityViewIssues},
	{Path: "/admin/users", Title: "Users", Capability: rbac.CapabilityManageUsers},
	{Path: "/settings", Title: "Settings", Capability: rbac.CapabilityViewDashboard},
}

// PublicPages render without any auth-state decision.
var PublicPages = []Page{
	{Path: "/login", Title: "Sign in"},
	{Path: "/register", Title: "Request access"},
	{Path: "/forgot-password", Title: "Account help"},
	{Path: "/pending-approval", Title: "Awaiting approval"},
	{Path: "/unauthorized", Title: "Not authorized"},
}

type shellData struct {
	Title    string
	Path     string
	State    string
	Loading  bool
	Snapshot any
}

// Handler renders the shell.
type Handler struct {
	guard  *authstate.Guard
	logger *zap.Logger
}

// NewHandler creates the page handler.
func NewHandler(guard *authstate.Guard, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{guard: guard, logger: logger}
}

// Routes registers every page route on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/dashboard", http.StatusFound)
	})
	for _, page := range PublicPages {
		r.Get(page.Path, h.render(page))
	}
	for _, page := range ProtectedPages {
		r.With(h.guard.RequireView(page.Capability)).Get(page.Path, h.render(page))
	}
}

func (h *Handler) render(page Page) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := shellData{Title: page.Title, Path: page.Path, State: authstate.Unauthenticated.String()}
		if snap, ok := authstate.SnapshotFromContext(r.Context()); ok {
			data.State = snap.State.String()
			data.Loading = snap.State == authstate.Initializing || snap.State == authstate.PendingRole
			data.Snapshot = snap
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := shell.Execute(w, data); err != nil {
			h.logger.Error("render shell", zap.String("path", page.Path), zap.Error(err))
		}
	}
}
