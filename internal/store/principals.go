// ABOUTME: Principal directory: customers, agents and admins known to the desk
// ABOUTME: Authentication resolves JWT subjects against this table

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrPrincipalNotFound is returned when a principal doesn't exist.
var ErrPrincipalNotFound = errors.New("principal not found")

// ErrDuplicatePrincipal is returned when creating a principal with an existing ID.
var ErrDuplicatePrincipal = errors.New("principal already exists")

// PrincipalRole determines what a principal may do.
type PrincipalRole string

const (
	RoleCustomer PrincipalRole = "customer"
	RoleAgent    PrincipalRole = "agent"
	RoleAdmin    PrincipalRole = "admin"
)

// Valid reports whether r is a known role.
func (r PrincipalRole) Valid() bool {
	switch r {
	case RoleCustomer, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// Elevated reports whether the role may act on any conversation.
func (r PrincipalRole) Elevated() bool {
	return r == RoleAgent || r == RoleAdmin
}

// PrincipalStatus is whether a principal may authenticate.
type PrincipalStatus string

const (
	PrincipalStatusActive   PrincipalStatus = "active"
	PrincipalStatusDisabled PrincipalStatus = "disabled"
)

// Principal is an authenticated identity.
type Principal struct {
	ID          string
	DisplayName string
	Role        PrincipalRole
	Status      PrincipalStatus
	CreatedAt   time.Time
}

// PrincipalFilter narrows ListPrincipals and CountPrincipals.
type PrincipalFilter struct {
	Role   *PrincipalRole
	Status *PrincipalStatus
}

// CreatePrincipal inserts a new principal.
func (s *SQLiteStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	if !p.Role.Valid() {
		return fmt.Errorf("invalid principal role %q", p.Role)
	}
	if p.Status == "" {
		p.Status = PrincipalStatusActive
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO principals (principal_id, display_name, role, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.DisplayName, string(p.Role), string(p.Status), formatTime(p.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicatePrincipal
		}
		return fmt.Errorf("inserting principal: %w", err)
	}

	s.logger.Debug("created principal", "id", p.ID, "role", p.Role)
	return nil
}

// GetPrincipal retrieves a principal by ID.
// Returns ErrPrincipalNotFound if it doesn't exist.
func (s *SQLiteStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT principal_id, display_name, role, status, created_at FROM principals WHERE principal_id = ?`, id)
	return scanPrincipal(row)
}

// ListPrincipals returns principals ordered by creation time.
func (s *SQLiteStore) ListPrincipals(ctx context.Context, f PrincipalFilter) ([]*Principal, error) {
	where, args := principalWhere(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT principal_id, display_name, role, status, created_at FROM principals WHERE `+where+` ORDER BY created_at ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying principals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating principal rows: %w", err)
	}
	return out, nil
}

// CountPrincipals counts principals matching the filter.
func (s *SQLiteStore) CountPrincipals(ctx context.Context, f PrincipalFilter) (int, error) {
	where, args := principalWhere(f)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM principals WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting principals: %w", err)
	}
	return n, nil
}

// UpdatePrincipalStatus enables or disables a principal.
func (s *SQLiteStore) UpdatePrincipalStatus(ctx context.Context, id string, status PrincipalStatus) error {
	result, err := s.db.ExecContext(ctx, `UPDATE principals SET status = ? WHERE principal_id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("updating principal status: %w", err)
	}
	if err := requireRow(result); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrPrincipalNotFound
		}
		return err
	}
	return nil
}

func principalWhere(f PrincipalFilter) (string, []any) {
	where := "1=1"
	var args []any
	if f.Role != nil {
		where += " AND role = ?"
		args = append(args, string(*f.Role))
	}
	if f.Status != nil {
		where += " AND status = ?"
		args = append(args, string(*f.Status))
	}
	return where, args
}

func scanPrincipal(row rowScanner) (*Principal, error) {
	var p Principal
	var role, status, createdAt string

	err := row.Scan(&p.ID, &p.DisplayName, &role, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning principal: %w", err)
	}

	p.Role = PrincipalRole(role)
	p.Status = PrincipalStatus(status)
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing principal created_at: %w", err)
	}
	return &p, nil
}
