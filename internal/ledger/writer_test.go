package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRecordReceiptOpensLot(t *testing.T) {
	store := newMemStore()
	w := NewWriter(nil)
	ctx := context.Background()
	tenant, product, branch := uuid.New(), uuid.New(), uuid.New()

	lotID, err := w.RecordReceipt(ctx, store, ReceiptParams{
		TenantID: tenant, ProductID: product, BranchID: branch,
		Qty: 10, UnitCost: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, lotID)

	require.EqualValues(t, 10, store.onHand(tenant, product, branch))
	require.EqualValues(t, 10, store.lotRemaining(tenant, product, branch))
	require.Len(t, store.entries, 1)
	require.Equal(t, EntryReceipt, store.entries[0].Type)
}

func TestRecordReceiptRejectsInvalidInput(t *testing.T) {
	store := newMemStore()
	w := NewWriter(nil)
	ctx := context.Background()

	_, err := w.RecordReceipt(ctx, store, ReceiptParams{Qty: 0, UnitCost: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = w.RecordReceipt(ctx, store, ReceiptParams{Qty: 5, UnitCost: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, ErrInvalidUnitCost)
}

func TestRecordConsumptionDrawsFIFO(t *testing.T) {
	store := newMemStore()
	w := NewWriter(nil)
	ctx := context.Background()
	tenant, product, branch := uuid.New(), uuid.New(), uuid.New()

	first, err := w.RecordReceipt(ctx, store, ReceiptParams{
		TenantID: tenant, ProductID: product, BranchID: branch,
		Qty: 5, UnitCost: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	second, err := w.RecordReceipt(ctx, store, ReceiptParams{
		TenantID: tenant, ProductID: product, BranchID: branch,
		Qty: 5, UnitCost: decimal.NewFromInt(200),
	})
	require.NoError(t, err)
	// Force deterministic ordering regardless of clock resolution.
	store.lots[second].ReceivedAt = store.lots[first].ReceivedAt.Add(1)

	draws, err := w.RecordConsumption(ctx, store, ConsumptionParams{
		TenantID: tenant, ProductID: product, BranchID: branch, Qty: 7,
	})
	require.NoError(t, err)
	require.Len(t, draws, 2)
	require.Equal(t, first, draws[0].LotID)
	require.EqualValues(t, 5, draws[0].Qty)
	require.Equal(t, second, draws[1].LotID)
	require.EqualValues(t, 2, draws[1].Qty)

	require.EqualValues(t, 3, store.onHand(tenant, product, branch))
	require.EqualValues(t, 3, store.lotRemaining(tenant, product, branch))
}

func TestRecordConsumptionInsufficientStock(t *testing.T) {
	store := newMemStore()
	w := NewWriter(nil)
	ctx := context.Background()
	tenant, product, branch := uuid.New(), uuid.New(), uuid.New()

	_, err := w.RecordReceipt(ctx, store, ReceiptParams{
		TenantID: tenant, ProductID: product, BranchID: branch,
		Qty: 3, UnitCost: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	_, err = w.RecordConsumption(ctx, store, ConsumptionParams{
		TenantID: tenant, ProductID: product, BranchID: branch, Qty: 4,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.EqualValues(t, 3, store.lotRemaining(tenant, product, branch))
}

func TestRecordReversalOfReceipt(t *testing.T) {
	store := newMemStore()
	w := NewWriter(nil)
	ctx := context.Background()
	tenant, product, branch := uuid.New(), uuid.New(), uuid.New()

	_, err := w.RecordReceipt(ctx, store, ReceiptParams{
		TenantID: tenant, ProductID: product, BranchID: branch,
		Qty: 10, UnitCost: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	receiptEntry := store.entries[0]

	reversal, err := w.RecordReversal(ctx, store, tenant, receiptEntry.ID, nil, "posting error")
	require.NoError(t, err)
	require.EqualValues(t, -10, reversal.Qty)
	require.Equal(t, EntryReversal, reversal.Type)

	require.EqualValues(t, 0, store.onHand(tenant, product, branch))
	require.EqualValues(t, 0, store.lotRemaining(tenant, product, branch))

	// The same entry cannot be reversed twice.
	_, err = w.RecordReversal(ctx, store, tenant, receiptEntry.ID, nil, "again")
	require.ErrorIs(t, err, ErrAlreadyReversed)
}

func TestRecordReversalOfConsumptionReopensStock(t *testing.T) {
	store := newMemStore()
	w := NewWriter(nil)
	ctx := context.Background()
	tenant, product, branch := uuid.New(), uuid.New(), uuid.New()

	_, err := w.RecordReceipt(ctx, store, ReceiptParams{
		TenantID: tenant, ProductID: product, BranchID: branch,
		Qty: 10, UnitCost: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	_, err = w.RecordConsumption(ctx, store, ConsumptionParams{
		TenantID: tenant, ProductID: product, BranchID: branch, Qty: 10,
	})
	require.NoError(t, err)
	require.EqualValues(t, 0, store.onHand(tenant, product, branch))

	var consumptionID uuid.UUID
	for _, e := range store.entries {
		if e.Type == EntryConsumption {
			consumptionID = e.ID
		}
	}
	require.NotEqual(t, uuid.Nil, consumptionID)

	_, err = w.RecordReversal(ctx, store, tenant, consumptionID, nil, "undo issue")
	require.NoError(t, err)
	require.EqualValues(t, 10, store.onHand(tenant, product, branch))
	require.EqualValues(t, 10, store.lotRemaining(tenant, product, branch))
}

func TestOnHandAlwaysMatchesEntrySum(t *testing.T) {
	store := newMemStore()
	w := NewWriter(nil)
	ctx := context.Background()
	tenant, product, branch := uuid.New(), uuid.New(), uuid.New()

	_, err := w.RecordReceipt(ctx, store, ReceiptParams{
		TenantID: tenant, ProductID: product, BranchID: branch,
		Qty: 12, UnitCost: decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	_, err = w.RecordConsumption(ctx, store, ConsumptionParams{
		TenantID: tenant, ProductID: product, BranchID: branch, Qty: 4,
	})
	require.NoError(t, err)
	_, err = w.RecordConsumption(ctx, store, ConsumptionParams{
		TenantID: tenant, ProductID: product, BranchID: branch, Qty: 3,
	})
	require.NoError(t, err)

	require.EqualValues(t, 5, store.onHand(tenant, product, branch))
	require.Equal(t, store.lotRemaining(tenant, product, branch), store.onHand(tenant, product, branch))
}
