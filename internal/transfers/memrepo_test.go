package transfers

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/approvals"
	"github.com/tradewind-erp/tradewind/internal/ledger"
	"github.com/tradewind-erp/tradewind/internal/shared"
)

// memLedger is an in-memory ledger.TxStore with value-semantics lots so the
// repository fake can snapshot and restore it around failed transactions.
type memLedger struct {
	entries []ledger.Entry
	lots    map[uuid.UUID]ledger.Lot
}

func newMemLedger() *memLedger {
	return &memLedger{lots: make(map[uuid.UUID]ledger.Lot)}
}

func (m *memLedger) InsertEntry(_ context.Context, entry ledger.Entry) (uuid.UUID, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	m.entries = append(m.entries, entry)
	return entry.ID, nil
}

func (m *memLedger) InsertLot(_ context.Context, lot ledger.Lot) (uuid.UUID, error) {
	if lot.ID == uuid.Nil {
		lot.ID = uuid.New()
	}
	if lot.ReceivedAt.IsZero() {
		lot.ReceivedAt = time.Now().UTC()
	}
	m.lots[lot.ID] = lot
	return lot.ID, nil
}

func (m *memLedger) LotsForUpdate(_ context.Context, tenantID, productID, branchID uuid.UUID) ([]ledger.Lot, error) {
	var lots []ledger.Lot
	for _, lot := range m.lots {
		if lot.TenantID == tenantID && lot.ProductID == productID && lot.BranchID == branchID && lot.QtyRemaining > 0 {
			lots = append(lots, lot)
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

func (m *memLedger) DecrementLot(_ context.Context, lotID uuid.UUID, qty int64) error {
	lot, ok := m.lots[lotID]
	if !ok || lot.QtyRemaining < qty {
		return ledger.ErrInsufficientStock
	}
	lot.QtyRemaining -= qty
	m.lots[lotID] = lot
	return nil
}

func (m *memLedger) GetEntry(_ context.Context, tenantID, entryID uuid.UUID) (ledger.Entry, error) {
	for _, e := range m.entries {
		if e.TenantID == tenantID && e.ID == entryID {
			return e, nil
		}
	}
	return ledger.Entry{}, ledger.ErrEntryNotFound
}

func (m *memLedger) MarkReversed(_ context.Context, entryID, reversalID uuid.UUID) error {
	for i := range m.entries {
		if m.entries[i].ID == entryID {
			if m.entries[i].ReversedID != nil {
				return ledger.ErrAlreadyReversed
			}
			m.entries[i].ReversedID = &reversalID
			return nil
		}
	}
	return ledger.ErrEntryNotFound
}

func (m *memLedger) onHand(tenantID, productID, branchID uuid.UUID) int64 {
	var total int64
	for _, e := range m.entries {
		if e.TenantID == tenantID && e.ProductID == productID && e.BranchID == branchID {
			total += e.Qty
		}
	}
	return total
}

func (m *memLedger) lotRemaining(tenantID, productID, branchID uuid.UUID) int64 {
	var total int64
	for _, lot := range m.lots {
		if lot.TenantID == tenantID && lot.ProductID == productID && lot.BranchID == branchID {
			total += lot.QtyRemaining
		}
	}
	return total
}

func (m *memLedger) clone() *memLedger {
	cp := &memLedger{
		entries: make([]ledger.Entry, len(m.entries)),
		lots:    make(map[uuid.UUID]ledger.Lot, len(m.lots)),
	}
	copy(cp.entries, m.entries)
	for id, lot := range m.lots {
		cp.lots[id] = lot
	}
	return cp
}

// memRepo is an in-memory Repository whose WithTx snapshots state up front
// and restores it when the function fails, mirroring transactional rollback.
type memRepo struct {
	transfers map[uuid.UUID]Transfer
	items     map[uuid.UUID][]Item // keyed by transfer id
	records   []approvals.Record
	seqs      map[int]int64
	stock     *memLedger
}

func newMemRepo() *memRepo {
	return &memRepo{
		transfers: make(map[uuid.UUID]Transfer),
		items:     make(map[uuid.UUID][]Item),
		seqs:      make(map[int]int64),
		stock:     newMemLedger(),
	}
}

func (m *memRepo) snapshot() *memRepo {
	cp := newMemRepo()
	for id, t := range m.transfers {
		cp.transfers[id] = t
	}
	for id, items := range m.items {
		cp.items[id] = append([]Item(nil), items...)
	}
	cp.records = append([]approvals.Record(nil), m.records...)
	for year, seq := range m.seqs {
		cp.seqs[year] = seq
	}
	cp.stock = m.stock.clone()
	return cp
}

func (m *memRepo) restore(snap *memRepo) {
	m.transfers = snap.transfers
	m.items = snap.items
	m.records = snap.records
	m.seqs = snap.seqs
	m.stock = snap.stock
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snap := m.snapshot()
	if err := fn(ctx, &memTxRepo{repo: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memRepo) GetTransfer(_ context.Context, tenantID, transferID uuid.UUID) (Transfer, []Item, error) {
	transfer, ok := m.transfers[transferID]
	if !ok || transfer.TenantID != tenantID {
		return Transfer{}, nil, ErrTransferNotFound
	}
	return transfer, append([]Item(nil), m.items[transferID]...), nil
}

func (m *memRepo) ListTransfers(_ context.Context, tenantID uuid.UUID, _ shared.Page) ([]Transfer, error) {
	var out []Transfer
	for _, t := range m.transfers {
		if t.TenantID == tenantID {
			out = append(out, t)
		}
	}
	return out, nil
}

type memTxRepo struct {
	repo *memRepo
}

func (m *memTxRepo) InsertTransfer(_ context.Context, t Transfer) error {
	m.repo.transfers[t.ID] = t
	return nil
}

func (m *memTxRepo) InsertItems(_ context.Context, items []Item) error {
	for _, item := range items {
		m.repo.items[item.TransferID] = append(m.repo.items[item.TransferID], item)
	}
	return nil
}

func (m *memTxRepo) GetTransferForUpdate(_ context.Context, tenantID, transferID uuid.UUID) (Transfer, error) {
	transfer, ok := m.repo.transfers[transferID]
	if !ok || transfer.TenantID != tenantID {
		return Transfer{}, ErrTransferNotFound
	}
	return transfer, nil
}

func (m *memTxRepo) ItemsForUpdate(_ context.Context, transferID uuid.UUID) ([]Item, error) {
	return append([]Item(nil), m.repo.items[transferID]...), nil
}

func (m *memTxRepo) UpdateTransfer(_ context.Context, t Transfer) error {
	current, ok := m.repo.transfers[t.ID]
	if !ok || current.Version != t.Version {
		return shared.ErrConcurrentModification
	}
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	m.repo.transfers[t.ID] = t
	return nil
}

func (m *memTxRepo) UpdateItemCounters(_ context.Context, item Item) error {
	items := m.repo.items[item.TransferID]
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			return nil
		}
	}
	return ErrItemNotFound
}

func (m *memTxRepo) NextNumber(_ context.Context, _ uuid.UUID, year int) (int64, error) {
	m.repo.seqs[year]++
	return m.repo.seqs[year], nil
}

func (m *memTxRepo) InsertApprovalRecords(_ context.Context, records []approvals.Record) error {
	m.repo.records = append(m.repo.records, records...)
	return nil
}

func (m *memTxRepo) Ledger() ledger.TxStore {
	return m.repo.stock
}

// memCatalog answers branch and product lookups from fixed maps.
type memCatalog struct {
	branches map[uuid.UUID]bool
	costs    map[uuid.UUID]decimal.Decimal
}

func (m memCatalog) BranchActive(_ context.Context, _ uuid.UUID, branchID uuid.UUID) (bool, error) {
	return m.branches[branchID], nil
}

func (m memCatalog) ProductUnitCost(_ context.Context, _ uuid.UUID, productID uuid.UUID) (decimal.Decimal, error) {
	cost, ok := m.costs[productID]
	if !ok {
		return decimal.Zero, ErrItemNotFound
	}
	return cost, nil
}

// memEvaluator returns a fixed rule, or no match when nil. A non-nil err is
// returned once and then cleared, simulating a transient rule source outage.
type memEvaluator struct {
	rule *approvals.Rule
	last approvals.EvalInput
	err  error
}

func (m *memEvaluator) Evaluate(_ context.Context, _ uuid.UUID, input approvals.EvalInput) (approvals.MatchResult, error) {
	m.last = input
	if m.err != nil {
		err := m.err
		m.err = nil
		return approvals.MatchResult{}, err
	}
	return approvals.MatchResult{Rule: m.rule}, nil
}

// memIdem remembers keys per tenant.
type memIdem struct {
	keys map[string]bool
}

func (m *memIdem) CheckAndInsert(_ context.Context, tenantID uuid.UUID, key, module string) error {
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	full := tenantID.String() + "/" + module + "/" + key
	if m.keys[full] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[full] = true
	return nil
}

func (m *memIdem) Delete(_ context.Context, tenantID uuid.UUID, key string) error {
	prefix := tenantID.String() + "/"
	for full := range m.keys {
		if strings.HasPrefix(full, prefix) && strings.HasSuffix(full, "/"+key) {
			delete(m.keys, full)
		}
	}
	return nil
}
