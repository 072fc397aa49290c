package transfers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/approvals"
	"github.com/tradewind-erp/tradewind/internal/platform/httpx"
	"github.com/tradewind-erp/tradewind/internal/shared"
)

// Reverse generates the mirror of a COMPLETED transfer: source and
// destination swapped, one item per original item requesting exactly what
// was received. The mirror re-enters the standard lifecycle, approval rules
// included, and moves stock through its own ship/receive batches rather
// than by undoing the original ledger entries. The two transfers are linked
// bidirectionally; a second reversal of the same transfer conflicts.
func (s *Service) Reverse(ctx context.Context, actor shared.Actor, transferID uuid.UUID, reason string) (Transfer, []Item, error) {
	if strings.TrimSpace(reason) == "" {
		return Transfer{}, nil, fmt.Errorf("%w: %w", httpx.ErrValidation, ErrReasonRequired)
	}

	var (
		mirror      Transfer
		mirrorItems []Item
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetTransferForUpdate(ctx, actor.TenantID, transferID)
		if err != nil {
			return err
		}
		if !original.Status.CanReverse() {
			return fmt.Errorf("%w: status %s", ErrNotCompleted, original.Status)
		}
		if original.ReversedByID != nil {
			return fmt.Errorf("%w: already reversed by %s", ErrAlreadyReversed, *original.ReversedByID)
		}

		originalItems, err := tx.ItemsForUpdate(ctx, original.ID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		mirror = Transfer{
			ID:             uuid.New(),
			TenantID:       actor.TenantID,
			SourceBranchID: original.DestBranchID,
			DestBranchID:   original.SourceBranchID,
			RequesterID:    actor.UserID,
			Notes:          "reversal of " + original.Number + ": " + reason,
			ReversalOfID:   &original.ID,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		totalQty := int64(0)
		totalValue := decimal.Zero
		mirrorItems = mirrorItems[:0]
		for _, item := range originalItems {
			if item.QtyReceived == 0 {
				continue
			}
			mirrorItems = append(mirrorItems, Item{
				ID:           uuid.New(),
				TransferID:   mirror.ID,
				ProductID:    item.ProductID,
				QtyRequested: item.QtyReceived,
				AvgUnitCost:  decimal.Zero,
				CreatedAt:    now,
			})
			totalQty += item.QtyReceived
			totalValue = totalValue.Add(item.AvgUnitCost.Mul(decimal.NewFromInt(item.QtyReceived)))
		}
		if len(mirrorItems) == 0 {
			return fmt.Errorf("%w: nothing was received", ErrNoItems)
		}

		// The mirror is a fresh, independently priced movement, so rules
		// are evaluated anew rather than inherited from the original.
		match, err := s.rules.Evaluate(ctx, actor.TenantID, approvals.EvalInput{
			SourceBranchID: mirror.SourceBranchID,
			DestBranchID:   mirror.DestBranchID,
			TotalQty:       totalQty,
			TotalValue:     totalValue,
		})
		if err != nil {
			return err
		}
		if match.Rule != nil {
			mirror.Status = StatusRequested
			mirror.RequiresApproval = true
		} else {
			mirror.Status = StatusApproved
			for i := range mirrorItems {
				mirrorItems[i].QtyApproved = mirrorItems[i].QtyRequested
			}
		}

		seq, err := tx.NextNumber(ctx, actor.TenantID, now.Year())
		if err != nil {
			return err
		}
		mirror.Number = FormatNumber(now.Year(), seq)

		if err := tx.InsertTransfer(ctx, mirror); err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, mirrorItems); err != nil {
			return err
		}
		if match.Rule != nil {
			if err := tx.InsertApprovalRecords(ctx, approvals.MaterializeRecords(*match.Rule, mirror.ID)); err != nil {
				return err
			}
		}

		original.ReversedByID = &mirror.ID
		if err := tx.UpdateTransfer(ctx, original); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Transfer{}, nil, err
	}

	s.event("reversed")
	s.tryAudit(ctx, actor, "transfer.reverse", transferID, nil, map[string]any{
		"mirror_id": mirror.ID.String(), "mirror_number": mirror.Number, "reason": reason,
	})
	return mirror, mirrorItems, nil
}
