// ABOUTME: Principal lookup shared by the HTTP middleware and gRPC interceptors
// ABOUTME: Turns a verified token subject into an AuthContext or a typed failure

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/support-desk/internal/store"
)

// PrincipalStore looks up principals by ID.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, id string) (*store.Principal, error)
}

var (
	errUnknownPrincipal  = errors.New("principal not found")
	errDisabledPrincipal = errors.New("principal is disabled")
)

// resolve loads the token subject and checks it may act.
func resolve(ctx context.Context, principals PrincipalStore, principalID string) (*AuthContext, error) {
	p, err := principals.GetPrincipal(ctx, principalID)
	if errors.Is(err, store.ErrPrincipalNotFound) {
		return nil, errUnknownPrincipal
	}
	if err != nil {
		return nil, fmt.Errorf("looking up principal: %w", err)
	}
	if p.Status != store.PrincipalStatusActive {
		return nil, errDisabledPrincipal
	}
	return &AuthContext{PrincipalID: p.ID, DisplayName: p.DisplayName, Role: p.Role}, nil
}
