// Package ledger is the append-only stock ledger: the source of truth for
// on-hand quantity and FIFO cost lots per (tenant, product, branch).
package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType enumerates stock-affecting events.
type EntryType string

const (
	// EntryReceipt represents stock arriving at a branch.
	EntryReceipt EntryType = "RECEIPT"
	// EntryAdjustment represents a manual correction.
	EntryAdjustment EntryType = "ADJUSTMENT"
	// EntryConsumption represents stock leaving a branch.
	EntryConsumption EntryType = "CONSUMPTION"
	// EntryReversal mirrors a previous entry in the opposite direction.
	EntryReversal EntryType = "REVERSAL"
)

// Entry is one immutable row of the stock ledger. Entries are never updated
// or deleted; on-hand quantity for a (product, branch) is always the signed
// sum of its entries.
type Entry struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	ProductID  uuid.UUID
	BranchID   uuid.UUID
	Type       EntryType
	Qty        int64
	UnitCost   decimal.Decimal
	LotID      *uuid.UUID
	ActorID    *uuid.UUID
	Reason     string
	ReversedID *uuid.UUID
	OccurredAt time.Time
}

// Lot is a FIFO cost lot. Consumption always draws from the oldest lot with
// remaining quantity first.
type Lot struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	ProductID    uuid.UUID
	BranchID     uuid.UUID
	UnitCost     decimal.Decimal
	QtyReceived  int64
	QtyRemaining int64
	ReceivedAt   time.Time
}

// Drawdown records how much a consumption drew from one lot.
type Drawdown struct {
	LotID    uuid.UUID
	Qty      int64
	UnitCost decimal.Decimal
}

var (
	// ErrInsufficientStock indicates the lots cannot satisfy the requested quantity.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = errors.New("ledger: unit cost must be >= 0")
	// ErrEntryNotFound indicates the referenced entry does not exist.
	ErrEntryNotFound = errors.New("ledger: entry not found")
	// ErrAlreadyReversed indicates the entry was reversed before.
	ErrAlreadyReversed = errors.New("ledger: entry already reversed")
)

// WeightedCost returns the quantity-weighted average unit cost of drawdowns.
func WeightedCost(draws []Drawdown) decimal.Decimal {
	var totalQty int64
	totalCost := decimal.Zero
	for _, d := range draws {
		totalQty += d.Qty
		totalCost = totalCost.Add(d.UnitCost.Mul(decimal.NewFromInt(d.Qty)))
	}
	if totalQty == 0 {
		return decimal.Zero
	}
	return totalCost.Div(decimal.NewFromInt(totalQty))
}
