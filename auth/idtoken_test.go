package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://id.dockside.example"

func newTestVerifier(t *testing.T) (*rsa.PrivateKey, *oidc.IDTokenVerifier) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	return key, oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: "dashboard"})
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":            testIssuer,
		"aud":            "dashboard",
		"sub":            "sub-123",
		"email":          "Dana@Dockside.example",
		"email_verified": true,
		"name":           "Dana Receiver",
		"iat":            time.Now().Add(-time.Minute).Unix(),
		"exp":            exp.Unix(),
	}).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestIDTokenValidatorAcceptsProviderToken(t *testing.T) {
	key, verifier := newTestVerifier(t)
	v := NewIDTokenValidator(verifier, "oidc")

	res := v.Validate(context.Background(), Credentials{Token: signIDToken(t, key, time.Now().Add(time.Hour)), Source: SourceBearer})
	require.True(t, res.Valid)
	assert.Equal(t, "sub-123", res.Identity.ID)
	assert.Equal(t, "dana@dockside.example", res.Identity.Email)
	assert.True(t, res.Identity.EmailVerified)
}

func TestIDTokenValidatorRejects(t *testing.T) {
	key, verifier := newTestVerifier(t)
	otherKey, _ := newTestVerifier(t)
	v := NewIDTokenValidator(verifier, "oidc")

	cases := map[string]struct {
		token string
		want  Reason
	}{
		"missing":   {"", ReasonMissing},
		"malformed": {"not-a-jwt", ReasonMalformed},
		"expired":   {signIDToken(t, key, time.Now().Add(-time.Hour)), ReasonExpired},
		"wrong key": {signIDToken(t, otherKey, time.Now().Add(time.Hour)), ReasonInvalidSignature},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := v.Validate(context.Background(), Credentials{Token: tc.token})
			assert.False(t, res.Valid)
			assert.Equal(t, tc.want, res.Reason)
		})
	}
}

func TestIDTokenValidatorWithoutVerifierFailsClosed(t *testing.T) {
	res := NewIDTokenValidator(nil, "oidc").Validate(context.Background(), Credentials{Token: "x"})
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonProviderUnavailable, res.Reason)
}
