package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func lot(qtyRemaining int64, cost int64, receivedAt time.Time) Lot {
	return Lot{
		ID:           uuid.New(),
		UnitCost:     decimal.NewFromInt(cost),
		QtyReceived:  qtyRemaining,
		QtyRemaining: qtyRemaining,
		ReceivedAt:   receivedAt,
	}
}

func TestAllocateFIFOOrder(t *testing.T) {
	base := time.Now()
	l1 := lot(5, 100, base)
	l2 := lot(5, 200, base.Add(time.Hour))

	draws, err := Allocate([]Lot{l1, l2}, 7)
	require.NoError(t, err)
	require.Len(t, draws, 2)
	require.Equal(t, l1.ID, draws[0].LotID)
	require.EqualValues(t, 5, draws[0].Qty)
	require.True(t, draws[0].UnitCost.Equal(decimal.NewFromInt(100)))
	require.Equal(t, l2.ID, draws[1].LotID)
	require.EqualValues(t, 2, draws[1].Qty)
	require.True(t, draws[1].UnitCost.Equal(decimal.NewFromInt(200)))
}

func TestAllocateSkipsEmptyLots(t *testing.T) {
	base := time.Now()
	empty := lot(0, 50, base)
	l2 := lot(10, 80, base.Add(time.Minute))

	draws, err := Allocate([]Lot{empty, l2}, 4)
	require.NoError(t, err)
	require.Len(t, draws, 1)
	require.Equal(t, l2.ID, draws[0].LotID)
}

func TestAllocateInsufficientStock(t *testing.T) {
	draws, err := Allocate([]Lot{lot(3, 100, time.Now())}, 4)
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Nil(t, draws)
}

func TestAllocateRejectsNonPositiveQty(t *testing.T) {
	_, err := Allocate(nil, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = Allocate(nil, -2)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestWeightedCost(t *testing.T) {
	draws := []Drawdown{
		{Qty: 5, UnitCost: decimal.NewFromInt(100)},
		{Qty: 2, UnitCost: decimal.NewFromInt(200)},
	}
	// (5*100 + 2*200) / 7
	want := decimal.NewFromInt(900).Div(decimal.NewFromInt(7))
	require.True(t, WeightedCost(draws).Equal(want))
	require.True(t, WeightedCost(nil).IsZero())
}
