package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainPolicyAllows(t *testing.T) {
	policy, err := NewDomainPolicy([]string{"dockside.example", "@Partner.Example "}, []string{`^[a-z]+\.contractor@gmail\.com$`}, false)
	require.NoError(t, err)

	allowed := []string{
		"dana@dockside.example",
		"DANA@DOCKSIDE.EXAMPLE",
		"ops@partner.example",
		"lee.contractor@gmail.com",
	}
	for _, email := range allowed {
		assert.True(t, policy.Allows(email), email)
	}

	denied := []string{
		"",
		"dockside.example",
		"@dockside.example",
		"dana@",
		"dana@evil.dockside.example",
		"dana@dockside.example.evil.com",
		"a@b@dockside.example",
		"user@unapproved-domain.com",
		"lee@gmail.com",
		"lee.contractor@gmail.com.evil.io",
	}
	for _, email := range denied {
		assert.False(t, policy.Allows(email), email)
	}
}

func TestDomainPolicyPatternsMatchWholeAddress(t *testing.T) {
	policy, err := NewDomainPolicy(nil, []string{`.*@acs\.com`}, false)
	require.NoError(t, err)

	assert.True(t, policy.Allows("a@acs.com"))
	assert.False(t, policy.Allows("a@acs.com.evil.io"))
	assert.False(t, policy.Allows("a@xacs.com"))
}

func TestEmptyDomainPolicyDeniesEveryone(t *testing.T) {
	var policy DomainPolicy
	assert.False(t, policy.Allows("dana@dockside.example"))
	assert.ErrorIs(t, policy.Check(testIdentity), ErrDomainPolicyViolation)
}

func TestDomainPolicyCheck(t *testing.T) {
	policy, err := NewDomainPolicy([]string{"dockside.example"}, nil, true)
	require.NoError(t, err)

	require.NoError(t, policy.Check(testIdentity))

	unverified := *testIdentity
	unverified.EmailVerified = false
	assert.True(t, errors.Is(policy.Check(&unverified), ErrDomainPolicyViolation))

	assert.ErrorIs(t, policy.Check(&Identity{ID: "x", Email: "user@unapproved-domain.com", EmailVerified: true}), ErrDomainPolicyViolation)
	assert.ErrorIs(t, policy.Check(nil), ErrDomainPolicyViolation)
}

func TestDomainPolicyRejectsBadPattern(t *testing.T) {
	_, err := NewDomainPolicy(nil, []string{"(unclosed"}, false)
	require.Error(t, err)
}
