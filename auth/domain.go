package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrDomainPolicyViolation is returned for identities whose email is not on
// the corporate allow-list.
var ErrDomainPolicyViolation = errors.New("auth: email domain not allowed")

// DomainPolicy is the allow-list of corporate email domains. An empty policy
// allows nobody.
type DomainPolicy struct {
	domains         map[string]struct{}
	patterns        []*regexp.Regexp
	requireVerified bool
}

// NewDomainPolicy builds a policy from exact domains and full-address regular
// expressions.
func NewDomainPolicy(domains []string, patterns []string, requireVerified bool) (DomainPolicy, error) {
	policy := DomainPolicy{
		domains:         make(map[string]struct{}, len(domains)),
		requireVerified: requireVerified,
	}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(d), "@")))
		if d != "" {
			policy.domains[d] = struct{}{}
		}
	}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		// Patterns match the whole address.
		re, err := regexp.Compile(`^(?:` + p + `)$`)
		if err != nil {
			return DomainPolicy{}, fmt.Errorf("auth: invalid email pattern %q: %w", p, err)
		}
		policy.patterns = append(policy.patterns, re)
	}
	return policy, nil
}

// Allows reports whether the address belongs to the allow-list.
func (p DomainPolicy) Allows(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 || strings.Count(email, "@") != 1 {
		return false
	}

	if _, ok := p.domains[email[at+1:]]; ok {
		return true
	}
	for _, re := range p.patterns {
		if re.MatchString(email) {
			return true
		}
	}
	return false
}

// Check applies the policy to an identity.
func (p DomainPolicy) Check(identity *Identity) error {
	if identity == nil {
		return ErrDomainPolicyViolation
	}
	if p.requireVerified && !identity.EmailVerified {
		return fmt.Errorf("%w: email %s is not verified", ErrDomainPolicyViolation, identity.Email)
	}
	if !p.Allows(identity.Email) {
		return fmt.Errorf("%w: %s", ErrDomainPolicyViolation, identity.Email)
	}
	return nil
}
