// Package rbac answers role membership questions for the core.
package rbac

import (
	"time"

	"github.com/google/uuid"
)

// Role is a tenant-scoped role referenced by approval levels.
type Role struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Name        string
	Description string
	IsActive    bool
	ArchivedAt  *time.Time
	ArchivedBy  *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Membership links a user to a role within a tenant. Memberships are
// archive-flagged rather than deleted because historical approval records
// reference them.
type Membership struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	UserID    uuid.UUID
	RoleID    uuid.UUID
	IsActive  bool
	CreatedAt time.Time
}
