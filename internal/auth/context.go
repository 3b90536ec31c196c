// ABOUTME: Authenticated identity carried through request contexts
// ABOUTME: Bridges the principal directory role to the conversation core's Principal

package auth

import (
	"context"

	"github.com/2389/support-desk/internal/conversation"
	"github.com/2389/support-desk/internal/store"
)

// AuthContext is the identity attached to an authenticated request.
type AuthContext struct {
	PrincipalID string
	DisplayName string
	Role        store.PrincipalRole
}

// IsElevated reports whether the caller is an agent or admin.
func (a *AuthContext) IsElevated() bool {
	return a.Role.Elevated()
}

// Principal converts the identity for conversation operations.
func (a *AuthContext) Principal() conversation.Principal {
	return conversation.Principal{ID: a.PrincipalID, Elevated: a.IsElevated()}
}

type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext, or nil if the request is unauthenticated.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}
