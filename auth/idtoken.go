package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// IDTokenValidator accepts ID tokens minted by the identity provider as
// bearer credentials. Each validation is a single verification call against
// the provider's key set; failures are not retried.
type IDTokenValidator struct {
	verifier *oidc.IDTokenVerifier
	provider string
	timeout  time.Duration
}

// NewIDTokenValidator wraps an OIDC verifier.
func NewIDTokenValidator(verifier *oidc.IDTokenVerifier, provider string) *IDTokenValidator {
	return &IDTokenValidator{verifier: verifier, provider: provider, timeout: 5 * time.Second}
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// Validate verifies the raw ID token.
func (v *IDTokenValidator) Validate(ctx context.Context, creds Credentials) Result {
	if strings.TrimSpace(creds.Token) == "" {
		return Invalid(ReasonMissing)
	}
	if v == nil || v.verifier == nil {
		return Invalid(ReasonProviderUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	token, err := v.verifier.Verify(ctx, creds.Token)
	if err != nil {
		return Invalid(oidcReason(err))
	}

	var claims idTokenClaims
	if err := token.Claims(&claims); err != nil || claims.Email == "" {
		return Invalid(ReasonMalformed)
	}

	return Valid(&Identity{
		ID:            token.Subject,
		Email:         strings.ToLower(claims.Email),
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Provider:      v.provider,
	})
}

func oidcReason(err error) Reason {
	var expired *oidc.TokenExpiredError
	if errors.As(err, &expired) {
		return ReasonExpired
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "malformed"):
		return ReasonMalformed
	case strings.Contains(msg, "signature"):
		return ReasonInvalidSignature
	case strings.Contains(msg, "fetching keys"), errors.Is(err, context.DeadlineExceeded):
		return ReasonProviderUnavailable
	default:
		return ReasonInvalidSignature
	}
}
