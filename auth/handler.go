package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/dockside/warehouse/backend/httpx"
)

// DefaultReturnURL is where a login lands when no usable return target was
// supplied.
const DefaultReturnURL = "/dashboard"

// Config contains the OpenID Connect configuration required to perform the
// authorization code flow.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

func (c Config) enabled() bool {
	return strings.TrimSpace(c.Issuer) != "" &&
		strings.TrimSpace(c.ClientID) != "" &&
		strings.TrimSpace(c.RedirectURL) != ""
}

func (c Config) scopes() []string {
	if len(c.Scopes) == 0 {
		return []string{oidc.ScopeOpenID, "profile", "email"}
	}
	return c.Scopes
}

// Accounts provisions a persisted account for a signed-in identity.
type Accounts interface {
	EnsureAccount(ctx context.Context, identity *Identity) error
}

// Publisher announces identity changes to live auth-state subscribers.
// A nil identity means the subject signed out.
type Publisher interface {
	Publish(ctx context.Context, key string, identity *Identity) error
}

// Handler manages OIDC login and session lifecycle.
type Handler struct {
	accounts  Accounts
	sessions  *SessionManager
	states    *StateStore
	policy    DomainPolicy
	publisher Publisher
	validator Validator
	logger    *zap.Logger

	cfg      Config
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	disabled bool
}

// Option customizes a Handler.
type Option func(*Handler)

// WithPublisher announces logins and logouts on the identity feed.
func WithPublisher(p Publisher) Option {
	return func(h *Handler) { h.publisher = p }
}

// WithValidator overrides the validator used by the verify endpoint.
func WithValidator(v Validator) Option {
	return func(h *Handler) { h.validator = v }
}

// WithLogger sets the handler logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler constructs an auth handler. Provider discovery happens here;
// when the OIDC configuration is incomplete the login endpoints answer 503.
func NewHandler(ctx context.Context, cfg Config, accounts Accounts, sessions *SessionManager, policy DomainPolicy, opts ...Option) (*Handler, error) {
	handler := &Handler{
		accounts:  accounts,
		sessions:  sessions,
		states:    NewStateStore(10 * time.Minute),
		policy:    policy,
		validator: sessions,
		logger:    zap.NewNop(),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(handler)
	}

	if !cfg.enabled() {
		handler.disabled = true
		handler.logger.Warn("oidc not configured, login disabled")
		return handler, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, err
	}

	handler.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	handler.oauth = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       cfg.scopes(),
	}
	return handler, nil
}

// Verifier exposes the provider ID token verifier, nil when login is disabled.
func (h *Handler) Verifier() *oidc.IDTokenVerifier {
	return h.verifier
}

// Routes exposes the auth endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/login", h.beginLogin)
	r.Get("/callback", h.handleCallback)
	r.Post("/logout", h.logout)
	r.Get("/verify", VerifyHandler(h.validator))
	return r
}

type loginResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

func (h *Handler) beginLogin(w http.ResponseWriter, r *http.Request) {
	if h.disabled {
		httpx.Error(w, http.StatusServiceUnavailable, "oidc not configured")
		return
	}

	state, entry, err := h.states.Create(SafeReturnURL(r.URL.Query().Get("returnUrl")))
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to create login state")
		return
	}

	authURL := h.oauth.AuthCodeURL(state,
		oidc.Nonce(entry.Nonce),
		oauth2.S256ChallengeOption(entry.Verifier),
	)
	httpx.WriteJSON(w, http.StatusOK, loginResponse{AuthorizationURL: authURL})
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	if h.disabled {
		httpx.Error(w, http.StatusServiceUnavailable, "oidc not configured")
		return
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		httpx.Error(w, http.StatusBadRequest, "missing state or code")
		return
	}

	entry, ok := h.states.Verify(state)
	if !ok {
		httpx.Error(w, http.StatusBadRequest, "invalid authorization state")
		return
	}

	token, err := h.oauth.Exchange(r.Context(), code, oauth2.VerifierOption(entry.Verifier))
	if err != nil {
		h.logger.Warn("code exchange failed", zap.Error(err))
		httpx.Error(w, http.StatusBadGateway, "failed to exchange code")
		return
	}

	identity, err := h.identityFromToken(r.Context(), token, entry.Nonce)
	if err != nil {
		h.logger.Warn("id token rejected", zap.Error(err))
		httpx.Error(w, http.StatusUnauthorized, "id token validation failed")
		return
	}

	if err := h.policy.Check(identity); err != nil {
		h.logger.Info("login refused by domain policy", zap.String("email", identity.Email))
		http.Redirect(w, r, "/login?error=domain", http.StatusFound)
		return
	}

	if err := h.accounts.EnsureAccount(r.Context(), identity); err != nil {
		h.logger.Error("failed to provision account", zap.String("email", identity.Email), zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed to persist account")
		return
	}

	if _, err := h.sessions.Issue(w, identity); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.publish(r.Context(), identity.Key(), identity)
	http.Redirect(w, r, SafeReturnURL(entry.ReturnURL), http.StatusFound)
}

func (h *Handler) identityFromToken(ctx context.Context, token *oauth2.Token, nonce string) (*Identity, error) {
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, errors.New("auth: token response has no id_token")
	}

	idToken, err := h.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	if idToken.Nonce != nonce {
		return nil, errors.New("auth: nonce mismatch")
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Email) == "" {
		return nil, errors.New("auth: email claim missing")
	}

	return &Identity{
		ID:            idToken.Subject,
		Email:         strings.ToLower(claims.Email),
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Provider:      "oidc",
	}, nil
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if res := Check(r.Context(), h.sessions, CredentialsFromRequest(r, h.sessions.CookieName())); res.Valid {
		h.publish(r.Context(), res.Identity.Key(), nil)
	}
	h.sessions.Clear(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *Handler) publish(ctx context.Context, key string, identity *Identity) {
	if h.publisher == nil || key == "" {
		return
	}
	if err := h.publisher.Publish(ctx, key, identity); err != nil {
		h.logger.Warn("identity publish failed", zap.String("key", key), zap.Error(err))
	}
}

// SafeReturnURL keeps only same-origin absolute paths so the login flow
// cannot be used as an open redirect.
func SafeReturnURL(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return DefaultReturnURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return DefaultReturnURL
	}
	return raw
}
