package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorize(t *testing.T) {
	var tests = []struct {
		name       string
		principal  *Principal
		capability Capability
		want       bool
	}{
		{
			name:       "session passes write",
			principal:  &Principal{ID: "u1", Kind: CredentialSession},
			capability: CapabilityWrite,
			want:       true,
		},
		{
			name:       "session passes admin",
			principal:  &Principal{ID: "u1", Kind: CredentialSession},
			capability: CapabilityAdmin,
			want:       true,
		},
		{
			name:       "api key with exact capability",
			principal:  &Principal{ID: "u1", Kind: CredentialAPIKey, Permissions: []Capability{CapabilityRead}},
			capability: CapabilityRead,
			want:       true,
		},
		{
			name:       "api key with read only cannot write",
			principal:  &Principal{ID: "u1", Kind: CredentialAPIKey, Permissions: []Capability{CapabilityRead}},
			capability: CapabilityWrite,
			want:       false,
		},
		{
			name:       "admin implies everything",
			principal:  &Principal{ID: "u1", Kind: CredentialAPIKey, Permissions: []Capability{CapabilityAdmin}},
			capability: CapabilityWrite,
			want:       true,
		},
		{
			name:       "write does not imply read",
			principal:  &Principal{ID: "u1", Kind: CredentialAPIKey, Permissions: []Capability{CapabilityWrite}},
			capability: CapabilityRead,
			want:       false,
		},
		{
			name:       "api key without permissions",
			principal:  &Principal{ID: "u1", Kind: CredentialAPIKey},
			capability: CapabilityRead,
			want:       false,
		},
		{
			name:       "nil principal",
			capability: CapabilityRead,
			want:       false,
		},
		{
			name:       "unknown kind",
			principal:  &Principal{ID: "u1", Kind: "OTHER"},
			capability: CapabilityRead,
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Authorize(tt.principal, tt.capability))
			if tt.want {
				assert.NoError(t, Require(tt.principal, tt.capability))
			} else {
				assert.ErrorIs(t, Require(tt.principal, tt.capability), ErrForbidden)
			}
		})
	}
}

func TestParseCapability(t *testing.T) {
	c, err := ParseCapability(" Write ")
	assert.NoError(t, err)
	assert.Equal(t, CapabilityWrite, c)

	_, err = ParseCapability("delete")
	assert.Error(t, err)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	p := &Principal{ID: "u1", Kind: CredentialSession}
	got, ok := PrincipalFromContext(ContextWithPrincipal(context.Background(), p))
	assert.True(t, ok)
	assert.Same(t, p, got)

	_, ok = PrincipalFromContext(ContextWithPrincipal(context.Background(), nil))
	assert.False(t, ok)
}
