package auth

import (
	"context"
	"fmt"
	"strings"
)

// CredentialKind tells how a principal authenticated.
type CredentialKind string

const (
	CredentialSession CredentialKind = "SESSION"
	CredentialAPIKey  CredentialKind = "API_KEY"
)

// Capability is a permission an API key can be granted.
type Capability string

const (
	CapabilityRead  Capability = "read"
	CapabilityWrite Capability = "write"
	CapabilityAdmin Capability = "admin"
)

// ParseCapability accepts read, write or admin in any case.
func ParseCapability(s string) (Capability, error) {
	switch c := Capability(strings.ToLower(strings.TrimSpace(s))); c {
	case CapabilityRead, CapabilityWrite, CapabilityAdmin:
		return c, nil
	default:
		return "", fmt.Errorf("unknown capability %q (valid: read, write, admin)", s)
	}
}

// Principal is the authenticated caller of a request. Permissions are only set for API keys.
type Principal struct {
	ID          string         `json:"id"`
	Kind        CredentialKind `json:"kind"`
	Permissions []Capability   `json:"permissions,omitempty"`
	KeyID       string         `json:"key_id,omitempty"`
}

type principalKey struct{}

// ContextWithPrincipal returns a copy of ctx carrying p.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by ContextWithPrincipal.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
