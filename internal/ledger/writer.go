package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MetricsPort abstracts the observability counter for ledger writes.
type MetricsPort interface {
	LedgerWrite(entryType string)
}

// Writer implements the ledger write contract against any TxStore. All
// writes happen inside the caller's transaction; a failing step aborts the
// whole transaction, so ledger and lot state can never diverge.
type Writer struct {
	metrics MetricsPort
}

// NewWriter constructs a Writer.
func NewWriter(metrics MetricsPort) *Writer {
	return &Writer{metrics: metrics}
}

// ReceiptParams describes a stock receipt.
type ReceiptParams struct {
	TenantID  uuid.UUID
	ProductID uuid.UUID
	BranchID  uuid.UUID
	Qty       int64
	UnitCost  decimal.Decimal
	ActorID   *uuid.UUID
	Reason    string
}

// ConsumptionParams describes a stock consumption.
type ConsumptionParams struct {
	TenantID  uuid.UUID
	ProductID uuid.UUID
	BranchID  uuid.UUID
	Qty       int64
	ActorID   *uuid.UUID
	Reason    string
}

// RecordReceipt appends a RECEIPT entry and opens a new FIFO lot. Returns
// the lot id.
func (w *Writer) RecordReceipt(ctx context.Context, store TxStore, p ReceiptParams) (uuid.UUID, error) {
	if p.Qty <= 0 {
		return uuid.Nil, ErrInvalidQuantity
	}
	if p.UnitCost.IsNegative() {
		return uuid.Nil, ErrInvalidUnitCost
	}
	now := time.Now().UTC()
	lotID, err := store.InsertLot(ctx, Lot{
		TenantID:     p.TenantID,
		ProductID:    p.ProductID,
		BranchID:     p.BranchID,
		UnitCost:     p.UnitCost,
		QtyReceived:  p.Qty,
		QtyRemaining: p.Qty,
		ReceivedAt:   now,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert lot: %w", err)
	}
	_, err = store.InsertEntry(ctx, Entry{
		TenantID:   p.TenantID,
		ProductID:  p.ProductID,
		BranchID:   p.BranchID,
		Type:       EntryReceipt,
		Qty:        p.Qty,
		UnitCost:   p.UnitCost,
		LotID:      &lotID,
		ActorID:    p.ActorID,
		Reason:     p.Reason,
		OccurredAt: now,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert receipt entry: %w", err)
	}
	if w.metrics != nil {
		w.metrics.LedgerWrite(string(EntryReceipt))
	}
	return lotID, nil
}

// RecordConsumption draws qty from the oldest open lots (FIFO) and appends
// one CONSUMPTION entry per lot drawn, preserving cost attribution. Fails
// with ErrInsufficientStock when the lots cannot cover the quantity; the
// caller's transaction rolls back, leaving lots untouched.
func (w *Writer) RecordConsumption(ctx context.Context, store TxStore, p ConsumptionParams) ([]Drawdown, error) {
	if p.Qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	lots, err := store.LotsForUpdate(ctx, p.TenantID, p.ProductID, p.BranchID)
	if err != nil {
		return nil, fmt.Errorf("lock lots: %w", err)
	}
	draws, err := Allocate(lots, p.Qty)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, draw := range draws {
		if err := store.DecrementLot(ctx, draw.LotID, draw.Qty); err != nil {
			return nil, fmt.Errorf("decrement lot %s: %w", draw.LotID, err)
		}
		lotID := draw.LotID
		_, err := store.InsertEntry(ctx, Entry{
			TenantID:   p.TenantID,
			ProductID:  p.ProductID,
			BranchID:   p.BranchID,
			Type:       EntryConsumption,
			Qty:        -draw.Qty,
			UnitCost:   draw.UnitCost,
			LotID:      &lotID,
			ActorID:    p.ActorID,
			Reason:     p.Reason,
			OccurredAt: now,
		})
		if err != nil {
			return nil, fmt.Errorf("insert consumption entry: %w", err)
		}
	}
	if w.metrics != nil {
		w.metrics.LedgerWrite(string(EntryConsumption))
	}
	return draws, nil
}

// RecordReversal appends a REVERSAL entry mirroring the original. A
// reversed receipt decrements its lot; a reversed consumption opens a new
// lot at the original cost so the stock becomes consumable again.
func (w *Writer) RecordReversal(ctx context.Context, store TxStore, tenantID, entryID uuid.UUID, actorID *uuid.UUID, reason string) (Entry, error) {
	original, err := store.GetEntry(ctx, tenantID, entryID)
	if err != nil {
		return Entry{}, err
	}
	if original.Type == EntryReversal {
		return Entry{}, fmt.Errorf("%w: cannot reverse a reversal", ErrAlreadyReversed)
	}

	now := time.Now().UTC()
	reversal := Entry{
		ID:         uuid.New(),
		TenantID:   original.TenantID,
		ProductID:  original.ProductID,
		BranchID:   original.BranchID,
		Type:       EntryReversal,
		Qty:        -original.Qty,
		UnitCost:   original.UnitCost,
		ActorID:    actorID,
		Reason:     reason,
		ReversedID: &original.ID,
		OccurredAt: now,
	}

	switch {
	case original.Qty > 0 && original.LotID != nil:
		if err := store.DecrementLot(ctx, *original.LotID, original.Qty); err != nil {
			return Entry{}, fmt.Errorf("reverse receipt lot: %w", err)
		}
		reversal.LotID = original.LotID
	case original.Qty < 0:
		lotID, err := store.InsertLot(ctx, Lot{
			TenantID:     original.TenantID,
			ProductID:    original.ProductID,
			BranchID:     original.BranchID,
			UnitCost:     original.UnitCost,
			QtyReceived:  -original.Qty,
			QtyRemaining: -original.Qty,
			ReceivedAt:   now,
		})
		if err != nil {
			return Entry{}, fmt.Errorf("reverse consumption lot: %w", err)
		}
		reversal.LotID = &lotID
	}

	if _, err := store.InsertEntry(ctx, reversal); err != nil {
		return Entry{}, fmt.Errorf("insert reversal entry: %w", err)
	}
	if err := store.MarkReversed(ctx, original.ID, reversal.ID); err != nil {
		return Entry{}, err
	}
	if w.metrics != nil {
		w.metrics.LedgerWrite(string(EntryReversal))
	}
	return reversal, nil
}
