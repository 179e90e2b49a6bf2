package auth

import (
	"context"
	"net/http"
	"strings"
)

// Identity is the authenticated principal as asserted by the identity
// provider. It is treated as immutable input.
type Identity struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	Provider      string `json:"provider,omitempty"`
}

// Key is the stable identifier used to route identity change notifications.
func (i *Identity) Key() string {
	if i == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(i.Email))
}

// Reason explains why a credential was rejected. It is logged, never
// returned to the caller.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonMissing             Reason = "credential_missing"
	ReasonMalformed           Reason = "credential_malformed"
	ReasonExpired             Reason = "credential_expired"
	ReasonInvalidSignature    Reason = "credential_invalid_signature"
	ReasonProviderUnavailable Reason = "provider_unavailable"
)

// Result is the outcome of validating one credential bundle.
type Result struct {
	Valid    bool
	Identity *Identity
	Reason   Reason
}

// Invalid builds a rejected result.
func Invalid(reason Reason) Result {
	return Result{Reason: reason}
}

// Valid builds an accepted result.
func Valid(identity *Identity) Result {
	return Result{Valid: true, Identity: identity}
}

// Source tells where a credential was found.
type Source string

const (
	SourceNone   Source = ""
	SourceCookie Source = "cookie"
	SourceBearer Source = "bearer"
)

// Credentials is the credential bundle extracted from a request.
type Credentials struct {
	Token  string
	Source Source
}

// Validator decides whether a credential bundle identifies a caller.
// Implementations must not return errors or panic; every failure is an
// invalid Result.
type Validator interface {
	Validate(ctx context.Context, creds Credentials) Result
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, creds Credentials) Result

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, creds Credentials) Result {
	return f(ctx, creds)
}

// Check runs the validator and converts a panic into a failed validation so
// that an unexpected fault never lets a request through.
func Check(ctx context.Context, v Validator, creds Credentials) (res Result) {
	if v == nil {
		return Invalid(ReasonProviderUnavailable)
	}
	defer func() {
		if recover() != nil {
			res = Invalid(ReasonProviderUnavailable)
		}
	}()
	res = v.Validate(ctx, creds)
	if res.Valid && res.Identity == nil {
		return Invalid(ReasonMalformed)
	}
	return res
}

// AnyOf accepts a credential when any of the validators accepts it. When all
// reject, the first rejection reason is reported.
func AnyOf(validators ...Validator) Validator {
	return ValidatorFunc(func(ctx context.Context, creds Credentials) Result {
		first := Invalid(ReasonMissing)
		for i, v := range validators {
			res := Check(ctx, v, creds)
			if res.Valid {
				return res
			}
			if i == 0 {
				first = res
			}
		}
		return first
	})
}

// CredentialsFromRequest extracts the session cookie or, failing that, a
// bearer token from the Authorization header.
func CredentialsFromRequest(r *http.Request, cookieName string) Credentials {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return Credentials{Token: c.Value, Source: SourceCookie}
	}
	if token := BearerToken(r); token != "" {
		return Credentials{Token: token, Source: SourceBearer}
	}
	return Credentials{}
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return ""
	}

	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return ""
	}

	return strings.TrimSpace(authz[len("bearer "):])
}

type contextKey string

const identityKey contextKey = "authIdentity"

// WithIdentity stores the identity on the context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// FromContext retrieves the authenticated identity, if any.
func FromContext(ctx context.Context) *Identity {
	if ctx == nil {
		return nil
	}
	identity, _ := ctx.Value(identityKey).(*Identity)
	return identity
}
