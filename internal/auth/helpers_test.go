// ABOUTME: Shared fixtures for auth tests
// ABOUTME: In-memory principal directory and a verifier with a fixed secret

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/support-desk/internal/store"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type mapPrincipals struct {
	principals map[string]*store.Principal
	err        error
}

func (m *mapPrincipals) GetPrincipal(_ context.Context, id string) (*store.Principal, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.principals[id]
	if !ok {
		return nil, store.ErrPrincipalNotFound
	}
	return p, nil
}

func newDirectory() *mapPrincipals {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &mapPrincipals{principals: map[string]*store.Principal{
		"cust-1":  {ID: "cust-1", DisplayName: "Casey", Role: store.RoleCustomer, Status: store.PrincipalStatusActive, CreatedAt: now},
		"agent-1": {ID: "agent-1", DisplayName: "Avery", Role: store.RoleAgent, Status: store.PrincipalStatusActive, CreatedAt: now},
		"gone-1":  {ID: "gone-1", DisplayName: "Gone", Role: store.RoleAgent, Status: store.PrincipalStatusDisabled, CreatedAt: now},
	}}
}

var errDirectoryDown = errors.New("directory down")

func newVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)
	return v
}

func tokenFor(t *testing.T, v *JWTVerifier, id string) string {
	t.Helper()
	tok, err := v.Generate(id, time.Hour)
	require.NoError(t, err)
	return tok
}
