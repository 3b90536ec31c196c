// ABOUTME: Tests for principals store operations
// ABOUTME: Covers CRUD, filtering, and validation for the principals table

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipalStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &Principal{
		ID:          "principal-123",
		DisplayName: "Dana",
		Role:        RoleAgent,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreatePrincipal(ctx, p))

	got, err := s.GetPrincipal(ctx, "principal-123")
	require.NoError(t, err)
	assert.Equal(t, "Dana", got.DisplayName)
	assert.Equal(t, RoleAgent, got.Role)
	assert.Equal(t, PrincipalStatusActive, got.Status, "status defaults to active")
	assert.True(t, got.Role.Elevated())
}

func TestPrincipalStore_Duplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &Principal{ID: "p1", DisplayName: "A", Role: RoleCustomer, CreatedAt: time.Now()}
	require.NoError(t, s.CreatePrincipal(ctx, p))
	assert.ErrorIs(t, s.CreatePrincipal(ctx, p), ErrDuplicatePrincipal)
}

func TestPrincipalStore_InvalidRole(t *testing.T) {
	s := newTestStore(t)

	err := s.CreatePrincipal(context.Background(), &Principal{ID: "p1", DisplayName: "A", Role: "owner", CreatedAt: time.Now()})
	assert.Error(t, err)
}

func TestPrincipalStore_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetPrincipal(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPrincipalNotFound)
	assert.ErrorIs(t, s.UpdatePrincipalStatus(context.Background(), "missing", PrincipalStatusDisabled), ErrPrincipalNotFound)
}

func TestPrincipalStore_ListAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreatePrincipal(ctx, &Principal{ID: "c1", DisplayName: "Cust", Role: RoleCustomer, CreatedAt: base}))
	require.NoError(t, s.CreatePrincipal(ctx, &Principal{ID: "a1", DisplayName: "Agent", Role: RoleAgent, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.CreatePrincipal(ctx, &Principal{ID: "a2", DisplayName: "Admin", Role: RoleAdmin, CreatedAt: base.Add(2 * time.Minute)}))
	require.NoError(t, s.UpdatePrincipalStatus(ctx, "a1", PrincipalStatusDisabled))

	all, err := s.ListPrincipals(ctx, PrincipalFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c1", all[0].ID)

	agent := RoleAgent
	agents, err := s.ListPrincipals(ctx, PrincipalFilter{Role: &agent})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, PrincipalStatusDisabled, agents[0].Status)

	active := PrincipalStatusActive
	n, err := s.CountPrincipals(ctx, PrincipalFilter{Status: &active})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
