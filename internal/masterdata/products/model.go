package products

import (
	"time"

	"github.com/google/uuid"

	"github.com/shopspring/decimal"
)

// Product represents a tenant product moved between branches.
type Product struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	IsActive    bool            `json:"is_active"`
	ArchivedAt  *time.Time      `json:"archived_at,omitempty"`
	ArchivedBy  *uuid.UUID      `json:"archived_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
