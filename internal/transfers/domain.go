package transfers

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the transfer lifecycle state. A transfer is never hard-deleted;
// CANCELLED and COMPLETED are terminal, and a COMPLETED transfer may
// additionally carry a reversal link.
type Status string

const (
	StatusRequested         Status = "REQUESTED"
	StatusApproved          Status = "APPROVED"
	StatusInTransit         Status = "IN_TRANSIT"
	StatusPartiallyReceived Status = "PARTIALLY_RECEIVED"
	StatusCompleted         Status = "COMPLETED"
	StatusCancelled         Status = "CANCELLED"
)

// CanShip reports whether a ship batch may run. Partial ship batches keep
// the transfer APPROVED until every item is fully shipped. Shipping may
// also resume from PARTIALLY_RECEIVED while approved quantity remains
// unshipped, so a receive of an early batch never strands the rest.
func (s Status) CanShip() bool {
	return s == StatusApproved || s == StatusPartiallyReceived
}

// CanReceive reports whether a receive batch may run.
func (s Status) CanReceive() bool {
	switch s {
	case StatusApproved, StatusInTransit, StatusPartiallyReceived:
		return true
	default:
		return false
	}
}

// CanReverse reports whether a reversal may be generated.
func (s Status) CanReverse() bool {
	return s == StatusCompleted
}

// Transfer is a tenant-scoped stock movement between two branches.
type Transfer struct {
	ID               uuid.UUID  `json:"id"`
	TenantID         uuid.UUID  `json:"tenant_id"`
	Number           string     `json:"number"`
	SourceBranchID   uuid.UUID  `json:"source_branch_id"`
	DestBranchID     uuid.UUID  `json:"dest_branch_id"`
	Status           Status     `json:"status"`
	RequesterID      uuid.UUID  `json:"requester_id"`
	ReviewerID       *uuid.UUID `json:"reviewer_id,omitempty"`
	ExpectedDelivery *time.Time `json:"expected_delivery,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	RequiresApproval bool       `json:"requires_approval"`
	ReversalOfID     *uuid.UUID `json:"reversal_of_transfer_id,omitempty"`
	ReversedByID     *uuid.UUID `json:"reversed_by_transfer_id,omitempty"`
	Version          int        `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Item is one product line of a transfer. The four quantity counters are
// monotonically non-decreasing and each bounded by the previous:
// 0 <= received <= shipped <= approved <= requested.
//
// AvgUnitCost is the weighted average cost of the units shipped so far,
// captured from the FIFO drawdowns at ship time and used to price the
// destination receipt lots.
type Item struct {
	ID           uuid.UUID       `json:"id"`
	TransferID   uuid.UUID       `json:"transfer_id"`
	ProductID    uuid.UUID       `json:"product_id"`
	QtyRequested int64           `json:"qty_requested"`
	QtyApproved  int64           `json:"qty_approved"`
	QtyShipped   int64           `json:"qty_shipped"`
	QtyReceived  int64           `json:"qty_received"`
	AvgUnitCost  decimal.Decimal `json:"avg_unit_cost"`
	CreatedAt    time.Time       `json:"created_at"`
}

// FullyShipped reports qtyShipped == qtyApproved.
func (i Item) FullyShipped() bool {
	return i.QtyShipped == i.QtyApproved
}

// FullyReceived reports qtyReceived == qtyShipped == qtyApproved.
func (i Item) FullyReceived() bool {
	return i.QtyReceived == i.QtyShipped && i.QtyShipped == i.QtyApproved
}

// Number formatting: TRF-<year>-<zero padded sequence>.
func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("TRF-%d-%04d", year, seq)
}

// statusAfterShip derives status from the items after a ship batch. Once
// anything has been received the transfer stays PARTIALLY_RECEIVED; it
// never moves back to IN_TRANSIT.
func statusAfterShip(items []Item) Status {
	allShipped := true
	anyReceived := false
	for _, item := range items {
		if !item.FullyShipped() {
			allShipped = false
		}
		if item.QtyReceived > 0 {
			anyReceived = true
		}
	}
	if anyReceived {
		return StatusPartiallyReceived
	}
	if allShipped {
		return StatusInTransit
	}
	return StatusApproved
}

// statusAfterReceive derives status from the items after a receive batch.
func statusAfterReceive(items []Item) Status {
	for _, item := range items {
		if !item.FullyReceived() {
			return StatusPartiallyReceived
		}
	}
	return StatusCompleted
}

var (
	// ErrTransferNotFound marks a missing or cross-tenant transfer.
	ErrTransferNotFound = errors.New("transfers: transfer not found")
	// ErrItemNotFound marks a batch line referencing an unknown item.
	ErrItemNotFound = errors.New("transfers: item not found")
	// ErrSameBranch rejects a transfer whose source equals its destination.
	ErrSameBranch = errors.New("transfers: source and destination branch must differ")
	// ErrNoItems rejects a transfer created without line items.
	ErrNoItems = errors.New("transfers: at least one item is required")
	// ErrEmptyBatch rejects a ship/receive call without lines.
	ErrEmptyBatch = errors.New("transfers: batch must contain at least one line")
	// ErrInvalidQty rejects non-positive quantities.
	ErrInvalidQty = errors.New("transfers: quantity must be positive")
	// ErrExceedsApprovedQty fails a ship line that would overdraw approval.
	ErrExceedsApprovedQty = errors.New("transfers: ship quantity exceeds approved quantity")
	// ErrExceedsShippedQty fails a receive line that would overdraw shipment.
	ErrExceedsShippedQty = errors.New("transfers: receive quantity exceeds shipped quantity")
	// ErrNotShippable marks a ship batch against a transfer whose status
	// does not admit shipping.
	ErrNotShippable = errors.New("transfers: transfer cannot be shipped in its current status")
	// ErrNotReceivable marks a receive batch against a transfer with nothing in transit.
	ErrNotReceivable = errors.New("transfers: transfer cannot be received in its current status")
	// ErrNotCompleted marks a reversal against a transfer that is not COMPLETED.
	ErrNotCompleted = errors.New("transfers: only completed transfers can be reversed")
	// ErrAlreadyReversed marks a second reversal attempt.
	ErrAlreadyReversed = errors.New("transfers: transfer already reversed")
	// ErrReasonRequired rejects a reversal without a reason.
	ErrReasonRequired = errors.New("transfers: reversal reason is required")
)
