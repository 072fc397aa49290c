package transfers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/approvals"
	"github.com/tradewind-erp/tradewind/internal/ledger"
	"github.com/tradewind-erp/tradewind/internal/platform/httpx"
	"github.com/tradewind-erp/tradewind/internal/shared"
)

const maxNotesLen = 2000

// RuleEvaluator matches a candidate transfer against the tenant's rule set.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, tenantID uuid.UUID, input approvals.EvalInput) (approvals.MatchResult, error)
}

// CatalogPort answers master-data questions during transfer validation.
type CatalogPort interface {
	BranchActive(ctx context.Context, tenantID, branchID uuid.UUID) (bool, error)
	ProductUnitCost(ctx context.Context, tenantID, productID uuid.UUID) (decimal.Decimal, error)
}

// IdempotencyPort deduplicates client retries on create operations. Delete
// releases a claimed key when the guarded create did not commit, so the
// same key stays retryable.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, tenantID uuid.UUID, key, module string) error
	Delete(ctx context.Context, tenantID uuid.UUID, key string) error
}

// AuditPort abstracts the audit sink.
type AuditPort interface {
	TryRecord(ctx context.Context, log shared.AuditLog)
}

// MetricsPort abstracts the transfer event counter.
type MetricsPort interface {
	TransferEvent(event string)
}

// Service owns the transfer lifecycle: creation with rule evaluation,
// ship/receive batches, and reversal generation.
type Service struct {
	repo    Repository
	rules   RuleEvaluator
	writer  *ledger.Writer
	catalog CatalogPort
	idem    IdempotencyPort
	audit   AuditPort
	metrics MetricsPort
}

// NewService builds the transfer service.
func NewService(repo Repository, rules RuleEvaluator, writer *ledger.Writer, catalog CatalogPort, idem IdempotencyPort, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{
		repo:    repo,
		rules:   rules,
		writer:  writer,
		catalog: catalog,
		idem:    idem,
		audit:   audit,
		metrics: metrics,
	}
}

// ItemInput is one requested line of a new transfer.
type ItemInput struct {
	ProductID    uuid.UUID `json:"product_id" validate:"required"`
	QtyRequested int64     `json:"qty_requested" validate:"required,min=1"`
}

// CreateInput is the payload for creating a transfer.
type CreateInput struct {
	SourceBranchID   uuid.UUID   `json:"source_branch_id" validate:"required"`
	DestBranchID     uuid.UUID   `json:"dest_branch_id" validate:"required"`
	Items            []ItemInput `json:"items" validate:"required,min=1,dive"`
	ExpectedDelivery *time.Time  `json:"expected_delivery"`
	Notes            string      `json:"notes"`
	IdempotencyKey   string      `json:"-"`
}

// Create validates the request, evaluates approval rules exactly once, and
// persists the transfer. When no rule matches the transfer starts APPROVED
// with every item's approved quantity equal to its requested quantity; on a
// match it starts REQUESTED with one PENDING approval record per level.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (Transfer, []Item, error) {
	if err := s.validateCreate(ctx, actor.TenantID, input); err != nil {
		return Transfer{}, nil, err
	}

	totalQty := int64(0)
	totalValue := decimal.Zero
	for _, line := range input.Items {
		unitCost, err := s.catalog.ProductUnitCost(ctx, actor.TenantID, line.ProductID)
		if err != nil {
			return Transfer{}, nil, err
		}
		totalQty += line.QtyRequested
		totalValue = totalValue.Add(unitCost.Mul(decimal.NewFromInt(line.QtyRequested)))
	}

	claimedKey := ""
	if input.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, actor.TenantID, input.IdempotencyKey, "transfers"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Transfer{}, nil, fmt.Errorf("%w: duplicate idempotency key", httpx.ErrConflict)
			}
			return Transfer{}, nil, err
		}
		claimedKey = input.IdempotencyKey
	}

	match, err := s.rules.Evaluate(ctx, actor.TenantID, approvals.EvalInput{
		SourceBranchID: input.SourceBranchID,
		DestBranchID:   input.DestBranchID,
		TotalQty:       totalQty,
		TotalValue:     totalValue,
	})
	if err != nil {
		s.releaseKey(ctx, actor.TenantID, claimedKey)
		return Transfer{}, nil, err
	}

	now := time.Now().UTC()
	transfer := Transfer{
		ID:               uuid.New(),
		TenantID:         actor.TenantID,
		SourceBranchID:   input.SourceBranchID,
		DestBranchID:     input.DestBranchID,
		RequesterID:      actor.UserID,
		ExpectedDelivery: input.ExpectedDelivery,
		Notes:            input.Notes,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	items := make([]Item, 0, len(input.Items))
	for _, line := range input.Items {
		items = append(items, Item{
			ID:           uuid.New(),
			TransferID:   transfer.ID,
			ProductID:    line.ProductID,
			QtyRequested: line.QtyRequested,
			AvgUnitCost:  decimal.Zero,
			CreatedAt:    now,
		})
	}

	if match.Rule != nil {
		transfer.Status = StatusRequested
		transfer.RequiresApproval = true
	} else {
		transfer.Status = StatusApproved
		for i := range items {
			items[i].QtyApproved = items[i].QtyRequested
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.NextNumber(ctx, actor.TenantID, now.Year())
		if err != nil {
			return err
		}
		transfer.Number = FormatNumber(now.Year(), seq)
		if err := tx.InsertTransfer(ctx, transfer); err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, items); err != nil {
			return err
		}
		if match.Rule != nil {
			return tx.InsertApprovalRecords(ctx, approvals.MaterializeRecords(*match.Rule, transfer.ID))
		}
		return nil
	})
	if err != nil {
		s.releaseKey(ctx, actor.TenantID, claimedKey)
		return Transfer{}, nil, err
	}

	s.event("created")
	s.tryAudit(ctx, actor, "transfer.create", transfer.ID, nil, map[string]any{
		"number": transfer.Number, "status": transfer.Status, "requires_approval": transfer.RequiresApproval,
	})
	return transfer, items, nil
}

// BatchLine is one (item, quantity) delta of a ship or receive batch.
type BatchLine struct {
	ItemID uuid.UUID `json:"item_id" validate:"required"`
	Qty    int64     `json:"qty" validate:"required,min=1"`
}

// Ship applies one ship batch. Each accepted unit is consumed from the
// source branch's FIFO lots immediately; goods in transit are no longer at
// the source. The batch is all-or-nothing: the first violating line rolls
// back every ledger write and counter update of the batch.
func (s *Service) Ship(ctx context.Context, actor shared.Actor, transferID uuid.UUID, lines []BatchLine) (Transfer, []Item, error) {
	if len(lines) == 0 {
		return Transfer{}, nil, fmt.Errorf("%w: %w", httpx.ErrValidation, ErrEmptyBatch)
	}

	var (
		transfer Transfer
		items    []Item
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		transfer, err = tx.GetTransferForUpdate(ctx, actor.TenantID, transferID)
		if err != nil {
			return err
		}
		if !transfer.Status.CanShip() {
			return fmt.Errorf("%w: status %s", ErrNotShippable, transfer.Status)
		}
		items, err = tx.ItemsForUpdate(ctx, transfer.ID)
		if err != nil {
			return err
		}
		byID := indexItems(items)

		for _, line := range lines {
			if line.Qty <= 0 {
				return fmt.Errorf("%w: item %s", ErrInvalidQty, line.ItemID)
			}
			item, ok := byID[line.ItemID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrItemNotFound, line.ItemID)
			}
			if item.QtyShipped+line.Qty > item.QtyApproved {
				return fmt.Errorf("%w: item %s: cannot ship %d, only %d approved remaining",
					ErrExceedsApprovedQty, line.ItemID, line.Qty, item.QtyApproved-item.QtyShipped)
			}

			draws, err := s.writer.RecordConsumption(ctx, tx.Ledger(), ledger.ConsumptionParams{
				TenantID:  actor.TenantID,
				ProductID: item.ProductID,
				BranchID:  transfer.SourceBranchID,
				Qty:       line.Qty,
				ActorID:   &actor.UserID,
				Reason:    "transfer " + transfer.Number + " ship",
			})
			if err != nil {
				return err
			}
			batchCost := ledger.WeightedCost(draws)
			item.AvgUnitCost = blendCost(item.AvgUnitCost, item.QtyShipped, batchCost, line.Qty)
			item.QtyShipped += line.Qty
			if err := tx.UpdateItemCounters(ctx, *item); err != nil {
				return err
			}
		}

		transfer.Status = statusAfterShip(items)
		if err := tx.UpdateTransfer(ctx, transfer); err != nil {
			return err
		}
		transfer.Version++
		return nil
	})
	if err != nil {
		return Transfer{}, nil, err
	}

	s.event("shipped")
	if transfer.Status == StatusInTransit {
		s.event("in_transit")
	}
	s.tryAudit(ctx, actor, "transfer.ship", transfer.ID, nil, map[string]any{
		"status": transfer.Status, "lines": len(lines),
	})
	return transfer, items, nil
}

// Receive applies one receive batch. Each accepted unit opens a receipt at
// the destination branch priced at the item's average shipped unit cost, so
// cost attribution survives the move. Completion requires every item fully
// received against a fully shipped approval.
func (s *Service) Receive(ctx context.Context, actor shared.Actor, transferID uuid.UUID, lines []BatchLine) (Transfer, []Item, error) {
	if len(lines) == 0 {
		return Transfer{}, nil, fmt.Errorf("%w: %w", httpx.ErrValidation, ErrEmptyBatch)
	}

	var (
		transfer Transfer
		items    []Item
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		transfer, err = tx.GetTransferForUpdate(ctx, actor.TenantID, transferID)
		if err != nil {
			return err
		}
		if !transfer.Status.CanReceive() {
			return fmt.Errorf("%w: status %s", ErrNotReceivable, transfer.Status)
		}
		items, err = tx.ItemsForUpdate(ctx, transfer.ID)
		if err != nil {
			return err
		}
		byID := indexItems(items)

		for _, line := range lines {
			if line.Qty <= 0 {
				return fmt.Errorf("%w: item %s", ErrInvalidQty, line.ItemID)
			}
			item, ok := byID[line.ItemID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrItemNotFound, line.ItemID)
			}
			if item.QtyReceived+line.Qty > item.QtyShipped {
				return fmt.Errorf("%w: item %s: cannot receive %d, only %d shipped outstanding",
					ErrExceedsShippedQty, line.ItemID, line.Qty, item.QtyShipped-item.QtyReceived)
			}

			_, err := s.writer.RecordReceipt(ctx, tx.Ledger(), ledger.ReceiptParams{
				TenantID:  actor.TenantID,
				ProductID: item.ProductID,
				BranchID:  transfer.DestBranchID,
				Qty:       line.Qty,
				UnitCost:  item.AvgUnitCost,
				ActorID:   &actor.UserID,
				Reason:    "transfer " + transfer.Number + " receive",
			})
			if err != nil {
				return err
			}
			item.QtyReceived += line.Qty
			if err := tx.UpdateItemCounters(ctx, *item); err != nil {
				return err
			}
		}

		transfer.Status = statusAfterReceive(items)
		if err := tx.UpdateTransfer(ctx, transfer); err != nil {
			return err
		}
		transfer.Version++
		return nil
	})
	if err != nil {
		return Transfer{}, nil, err
	}

	s.event("received")
	if transfer.Status == StatusCompleted {
		s.event("completed")
	}
	s.tryAudit(ctx, actor, "transfer.receive", transfer.ID, nil, map[string]any{
		"status": transfer.Status, "lines": len(lines),
	})
	return transfer, items, nil
}

// Get returns one transfer with its items.
func (s *Service) Get(ctx context.Context, actor shared.Actor, transferID uuid.UUID) (Transfer, []Item, error) {
	return s.repo.GetTransfer(ctx, actor.TenantID, transferID)
}

// List returns a page of the tenant's transfers, newest first.
func (s *Service) List(ctx context.Context, actor shared.Actor, page shared.Page) ([]Transfer, error) {
	return s.repo.ListTransfers(ctx, actor.TenantID, page.Clamp())
}

func (s *Service) validateCreate(ctx context.Context, tenantID uuid.UUID, input CreateInput) error {
	if input.SourceBranchID == input.DestBranchID {
		return fmt.Errorf("%w: %w", httpx.ErrValidation, ErrSameBranch)
	}
	if len(input.Items) == 0 {
		return fmt.Errorf("%w: %w", httpx.ErrValidation, ErrNoItems)
	}
	if len(input.Notes) > maxNotesLen {
		return fmt.Errorf("%w: notes exceed %d characters", httpx.ErrValidation, maxNotesLen)
	}
	seen := make(map[uuid.UUID]bool, len(input.Items))
	for _, line := range input.Items {
		if line.QtyRequested <= 0 {
			return fmt.Errorf("%w: %w: product %s", httpx.ErrValidation, ErrInvalidQty, line.ProductID)
		}
		if seen[line.ProductID] {
			return fmt.Errorf("%w: duplicate product %s", httpx.ErrValidation, line.ProductID)
		}
		seen[line.ProductID] = true
	}
	for _, branchID := range []uuid.UUID{input.SourceBranchID, input.DestBranchID} {
		active, err := s.catalog.BranchActive(ctx, tenantID, branchID)
		if err != nil {
			return err
		}
		if !active {
			return fmt.Errorf("%w: branch %s not found", httpx.ErrValidation, branchID)
		}
	}
	return nil
}

func indexItems(items []Item) map[uuid.UUID]*Item {
	byID := make(map[uuid.UUID]*Item, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}
	return byID
}

// blendCost folds a new drawdown cost into the running shipped average.
func blendCost(avg decimal.Decimal, shipped int64, batchCost decimal.Decimal, qty int64) decimal.Decimal {
	total := shipped + qty
	if total == 0 {
		return decimal.Zero
	}
	prior := avg.Mul(decimal.NewFromInt(shipped))
	added := batchCost.Mul(decimal.NewFromInt(qty))
	return prior.Add(added).Div(decimal.NewFromInt(total))
}

// releaseKey frees a claimed idempotency key after a failed create so the
// client can retry with the same key. A failed delete leaves the key to the
// retention sweep.
func (s *Service) releaseKey(ctx context.Context, tenantID uuid.UUID, key string) {
	if key == "" || s.idem == nil {
		return
	}
	_ = s.idem.Delete(ctx, tenantID, key)
}

func (s *Service) event(name string) {
	if s.metrics != nil {
		s.metrics.TransferEvent(name)
	}
}

func (s *Service) tryAudit(ctx context.Context, actor shared.Actor, action string, entityID uuid.UUID, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.TryRecord(ctx, shared.AuditLog{
		TenantID: actor.TenantID,
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "stock_transfer",
		EntityID: entityID.String(),
		Before:   before,
		After:    after,
	})
}
