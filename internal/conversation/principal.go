// ABOUTME: The acting principal passed into every conversation operation
// ABOUTME: Elevated principals (agents and admins) may see and manage any conversation

package conversation

import "github.com/2389/support-desk/internal/store"

// Principal identifies who is performing an operation.
type Principal struct {
	ID       string
	Elevated bool
}

// CanAccess reports whether p may read or write c.
func (p Principal) CanAccess(c *store.Conversation) bool {
	return p.Elevated || p.ID == c.CustomerID
}

func (p Principal) validate() error {
	if p.ID == "" {
		return invalid("actor", "missing principal id")
	}
	return nil
}
