package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/platform/httpx"
	"github.com/tradewind-erp/tradewind/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	TryRecord(ctx context.Context, log shared.AuditLog)
}

// Service exposes standalone ledger operations that open their own
// transaction: manual adjustments and read queries. Transfer batches do not
// go through here; they drive the Writer inside their own transaction.
type Service struct {
	repo   Repository
	writer *Writer
	audit  AuditPort
}

// NewService builds Service.
func NewService(repo Repository, writer *Writer, audit AuditPort) *Service {
	return &Service{repo: repo, writer: writer, audit: audit}
}

// AdjustmentInput describes a manual stock correction.
type AdjustmentInput struct {
	TenantID  uuid.UUID
	ProductID uuid.UUID
	BranchID  uuid.UUID
	Qty       int64
	UnitCost  decimal.Decimal
	Reason    string
	ActorID   uuid.UUID
}

// PostAdjustment posts a manual correction. Positive quantities open a new
// lot; negative quantities consume FIFO like any outbound movement.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) error {
	if input.Qty == 0 {
		return ErrInvalidQuantity
	}
	if input.Qty > 0 && input.UnitCost.IsNegative() {
		return ErrInvalidUnitCost
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		actor := input.ActorID
		if input.Qty > 0 {
			_, err := s.writer.RecordReceipt(ctx, store, ReceiptParams{
				TenantID:  input.TenantID,
				ProductID: input.ProductID,
				BranchID:  input.BranchID,
				Qty:       input.Qty,
				UnitCost:  input.UnitCost,
				ActorID:   &actor,
				Reason:    input.Reason,
			})
			return err
		}
		_, err := s.writer.RecordConsumption(ctx, store, ConsumptionParams{
			TenantID:  input.TenantID,
			ProductID: input.ProductID,
			BranchID:  input.BranchID,
			Qty:       -input.Qty,
			ActorID:   &actor,
			Reason:    input.Reason,
		})
		return err
	})
	if err != nil {
		return err
	}

	if s.audit != nil {
		s.audit.TryRecord(ctx, shared.AuditLog{
			TenantID: input.TenantID,
			ActorID:  input.ActorID,
			Action:   "ledger.adjust",
			Entity:   "product",
			EntityID: input.ProductID.String(),
			After:    map[string]any{"branch_id": input.BranchID, "qty": input.Qty, "reason": input.Reason},
		})
	}
	return nil
}

// OnHand returns current stock for (product, branch).
func (s *Service) OnHand(ctx context.Context, tenantID, productID, branchID uuid.UUID) (int64, error) {
	return s.repo.OnHand(ctx, tenantID, productID, branchID)
}

// StockCard lists ledger entries for a (product, branch) in time order.
func (s *Service) StockCard(ctx context.Context, filter CardFilter) ([]Entry, error) {
	if filter.TenantID == uuid.Nil || filter.ProductID == uuid.Nil || filter.BranchID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant, product and branch required", httpx.ErrValidation)
	}
	return s.repo.StockCard(ctx, filter)
}

// OpenLots lists lots with remaining stock oldest-first.
func (s *Service) OpenLots(ctx context.Context, tenantID, productID, branchID uuid.UUID) ([]Lot, error) {
	return s.repo.OpenLots(ctx, tenantID, productID, branchID)
}
