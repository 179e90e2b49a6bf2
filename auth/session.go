package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultCookieName is the session cookie set after login.
	DefaultCookieName = "wh_session"

	sessionIssuer = "warehouse-dashboard"
)

type sessionClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	Provider      string `json:"provider,omitempty"`
}

// SessionManager signs and verifies the session tokens that are stored as
// HTTP cookies or presented as bearer tokens.
type SessionManager struct {
	secret     []byte
	cookieName string
	lifetime   time.Duration
	secure     bool
	now        func() time.Time
}

// NewSessionManager constructs a session manager with the provided HMAC
// secret. The secret is required and should be randomly generated for
// production deployments.
func NewSessionManager(secret string, secure bool, lifetime time.Duration) (*SessionManager, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("auth: session secret must be configured")
	}
	if lifetime <= 0 {
		lifetime = 12 * time.Hour
	}

	return &SessionManager{
		secret:     []byte(trimmed),
		cookieName: DefaultCookieName,
		lifetime:   lifetime,
		secure:     secure,
		now:        time.Now,
	}, nil
}

// CookieName returns the name of the session cookie.
func (m *SessionManager) CookieName() string {
	return m.cookieName
}

// Token signs a session token for the identity.
func (m *SessionManager) Token(identity *Identity) (string, time.Time, error) {
	if identity == nil || identity.ID == "" {
		return "", time.Time{}, errors.New("auth: identity subject is required")
	}

	now := m.now()
	expires := now.Add(m.lifetime)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Email:         identity.Email,
		EmailVerified: identity.EmailVerified,
		Name:          identity.Name,
		Provider:      identity.Provider,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// Issue creates a session for the identity and writes it to the response as
// an HTTP only cookie. The raw token is returned so that API clients can
// present it as a bearer token.
func (m *SessionManager) Issue(w http.ResponseWriter, identity *Identity) (string, error) {
	token, expires, err := m.Token(identity)
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})

	return token, nil
}

// Clear removes the session cookie from the response.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// Validate verifies a session token. It performs no I/O.
func (m *SessionManager) Validate(_ context.Context, creds Credentials) Result {
	if strings.TrimSpace(creds.Token) == "" {
		return Invalid(ReasonMissing)
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(creds.Token, &claims,
		func(*jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return Invalid(reasonFor(err))
	}

	if claims.Subject == "" || claims.Email == "" {
		return Invalid(ReasonMalformed)
	}

	return Valid(&Identity{
		ID:            claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Provider:      claims.Provider,
	})
}

func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonInvalidSignature
	default:
		return ReasonMalformed
	}
}
