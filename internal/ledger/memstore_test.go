package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory TxStore used by ledger and transfer tests.
type memStore struct {
	entries []Entry
	lots    map[uuid.UUID]*Lot
}

func newMemStore() *memStore {
	return &memStore{lots: make(map[uuid.UUID]*Lot)}
}

func (m *memStore) InsertEntry(_ context.Context, entry Entry) (uuid.UUID, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	m.entries = append(m.entries, entry)
	return entry.ID, nil
}

func (m *memStore) InsertLot(_ context.Context, lot Lot) (uuid.UUID, error) {
	if lot.ID == uuid.Nil {
		lot.ID = uuid.New()
	}
	if lot.ReceivedAt.IsZero() {
		lot.ReceivedAt = time.Now().UTC()
	}
	stored := lot
	m.lots[lot.ID] = &stored
	return lot.ID, nil
}

func (m *memStore) LotsForUpdate(_ context.Context, tenantID, productID, branchID uuid.UUID) ([]Lot, error) {
	var lots []Lot
	for _, lot := range m.lots {
		if lot.TenantID == tenantID && lot.ProductID == productID && lot.BranchID == branchID && lot.QtyRemaining > 0 {
			lots = append(lots, *lot)
		}
	}
	sort.Slice(lots, func(i, j int) bool {
		if lots[i].ReceivedAt.Equal(lots[j].ReceivedAt) {
			return lots[i].ID.String() < lots[j].ID.String()
		}
		return lots[i].ReceivedAt.Before(lots[j].ReceivedAt)
	})
	return lots, nil
}

func (m *memStore) DecrementLot(_ context.Context, lotID uuid.UUID, qty int64) error {
	lot, ok := m.lots[lotID]
	if !ok || lot.QtyRemaining < qty {
		return ErrInsufficientStock
	}
	lot.QtyRemaining -= qty
	return nil
}

func (m *memStore) GetEntry(_ context.Context, tenantID, entryID uuid.UUID) (Entry, error) {
	for _, e := range m.entries {
		if e.TenantID == tenantID && e.ID == entryID {
			return e, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

func (m *memStore) MarkReversed(_ context.Context, entryID, reversalID uuid.UUID) error {
	for i := range m.entries {
		if m.entries[i].ID == entryID {
			if m.entries[i].ReversedID != nil {
				return ErrAlreadyReversed
			}
			m.entries[i].ReversedID = &reversalID
			return nil
		}
	}
	return ErrEntryNotFound
}

// onHand sums entry quantities, mirroring the SQL aggregate.
func (m *memStore) onHand(tenantID, productID, branchID uuid.UUID) int64 {
	var total int64
	for _, e := range m.entries {
		if e.TenantID == tenantID && e.ProductID == productID && e.BranchID == branchID {
			total += e.Qty
		}
	}
	return total
}

// lotRemaining sums remaining quantities across open lots.
func (m *memStore) lotRemaining(tenantID, productID, branchID uuid.UUID) int64 {
	var total int64
	for _, lot := range m.lots {
		if lot.TenantID == tenantID && lot.ProductID == productID && lot.BranchID == branchID {
			total += lot.QtyRemaining
		}
	}
	return total
}
