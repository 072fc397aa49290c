package branches

import (
	"time"

	"github.com/google/uuid"
)

// Branch represents a tenant branch holding stock.
type Branch struct {
	ID         uuid.UUID  `json:"id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	Code       string     `json:"code"`
	Name       string     `json:"name"`
	Address    string     `json:"address"`
	IsActive   bool       `json:"is_active"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	ArchivedBy *uuid.UUID `json:"archived_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
