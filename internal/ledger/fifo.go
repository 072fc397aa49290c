package ledger

// Allocate plans a FIFO drawdown of qty across lots. Lots must already be
// ordered by receipt time ascending; lots with nothing remaining are
// skipped. Returns ErrInsufficientStock when the lots cannot cover qty.
func Allocate(lots []Lot, qty int64) ([]Drawdown, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	var remaining = qty
	var draws []Drawdown
	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		if lot.QtyRemaining <= 0 {
			continue
		}
		take := lot.QtyRemaining
		if take > remaining {
			take = remaining
		}
		draws = append(draws, Drawdown{LotID: lot.ID, Qty: take, UnitCost: lot.UnitCost})
		remaining -= take
	}
	if remaining > 0 {
		return nil, ErrInsufficientStock
	}
	return draws, nil
}
