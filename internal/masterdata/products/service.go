package products

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tradewind-erp/tradewind/internal/platform/httpx"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (Product, error) {
	return s.repo.Get(ctx, tenantID, id)
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, includeArchived bool) ([]Product, error) {
	return s.repo.List(ctx, tenantID, includeArchived)
}

func (s *Service) Create(ctx context.Context, product Product) (Product, error) {
	product.SKU = strings.TrimSpace(product.SKU)
	product.Name = strings.TrimSpace(product.Name)
	if product.SKU == "" || product.Name == "" {
		return Product{}, fmt.Errorf("%w: product sku and name required", httpx.ErrValidation)
	}
	if product.UnitCost.IsNegative() {
		return Product{}, fmt.Errorf("%w: unit cost must be >= 0", httpx.ErrValidation)
	}
	return s.repo.Create(ctx, product)
}

func (s *Service) Archive(ctx context.Context, tenantID, id, actorID uuid.UUID) error {
	return s.repo.Archive(ctx, tenantID, id, actorID)
}

// ExistsActive reports whether the product exists and is not archived.
func (s *Service) ExistsActive(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	return s.repo.ExistsActive(ctx, tenantID, id)
}
