package branches

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

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (Branch, error) {
	return s.repo.Get(ctx, tenantID, id)
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, includeArchived bool) ([]Branch, error) {
	return s.repo.List(ctx, tenantID, includeArchived)
}

func (s *Service) Create(ctx context.Context, branch Branch) (Branch, error) {
	branch.Code = strings.TrimSpace(branch.Code)
	branch.Name = strings.TrimSpace(branch.Name)
	if branch.Code == "" || branch.Name == "" {
		return Branch{}, fmt.Errorf("%w: branch code and name required", httpx.ErrValidation)
	}
	return s.repo.Create(ctx, branch)
}

func (s *Service) Archive(ctx context.Context, tenantID, id, actorID uuid.UUID) error {
	return s.repo.Archive(ctx, tenantID, id, actorID)
}

// ExistsActive reports whether the branch exists and is not archived.
func (s *Service) ExistsActive(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	return s.repo.ExistsActive(ctx, tenantID, id)
}
