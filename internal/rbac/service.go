package rbac

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Service orchestrates role and membership lookups.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// HasRole reports whether the user holds an active membership with the role
// in the tenant.
func (s *Service) HasRole(ctx context.Context, tenantID, userID, roleID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT true FROM role_memberships
WHERE tenant_id=$1 AND user_id=$2 AND role_id=$3 AND is_active LIMIT 1`,
		tenantID, userID, roleID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}

// RoleExists reports whether an active role exists in the tenant.
func (s *Service) RoleExists(ctx context.Context, tenantID, roleID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT true FROM roles
WHERE tenant_id=$1 AND id=$2 AND is_active LIMIT 1`, tenantID, roleID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}

// UserExists reports whether the user belongs to the tenant.
func (s *Service) UserExists(ctx context.Context, tenantID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT true FROM tenant_users
WHERE tenant_id=$1 AND user_id=$2 AND is_active LIMIT 1`, tenantID, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}

// GetRole fetches a role by ID within the tenant.
func (s *Service) GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error) {
	var role Role
	err := s.pool.QueryRow(ctx, `SELECT id, tenant_id, name, description, is_active, archived_at, archived_by, created_at, updated_at
FROM roles WHERE tenant_id=$1 AND id=$2`, tenantID, roleID).Scan(
		&role.ID, &role.TenantID, &role.Name, &role.Description, &role.IsActive,
		&role.ArchivedAt, &role.ArchivedBy, &role.CreatedAt, &role.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}
