package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TxStore exposes ledger writes bound to an open transaction. Transfer
// batches construct one from their own transaction so that item updates and
// ledger writes commit or roll back together.
type TxStore interface {
	InsertEntry(ctx context.Context, entry Entry) (uuid.UUID, error)
	InsertLot(ctx context.Context, lot Lot) (uuid.UUID, error)
	LotsForUpdate(ctx context.Context, tenantID, productID, branchID uuid.UUID) ([]Lot, error)
	DecrementLot(ctx context.Context, lotID uuid.UUID, qty int64) error
	GetEntry(ctx context.Context, tenantID, entryID uuid.UUID) (Entry, error)
	MarkReversed(ctx context.Context, entryID, reversalID uuid.UUID) error
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore binds a TxStore to an open pgx transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

func (s *txStore) InsertEntry(ctx context.Context, entry Entry) (uuid.UUID, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_ledger_entries
(id, tenant_id, product_id, branch_id, entry_type, qty, unit_cost, lot_id, actor_id, reason, reversed_entry_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.TenantID, entry.ProductID, entry.BranchID, string(entry.Type),
		entry.Qty, entry.UnitCost, entry.LotID, entry.ActorID, entry.Reason, entry.ReversedID, entry.OccurredAt)
	if err != nil {
		return uuid.Nil, err
	}
	return entry.ID, nil
}

func (s *txStore) InsertLot(ctx context.Context, lot Lot) (uuid.UUID, error) {
	if lot.ID == uuid.Nil {
		lot.ID = uuid.New()
	}
	if lot.ReceivedAt.IsZero() {
		lot.ReceivedAt = time.Now().UTC()
	}
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_lots
(id, tenant_id, product_id, branch_id, unit_cost, qty_received, qty_remaining, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		lot.ID, lot.TenantID, lot.ProductID, lot.BranchID, lot.UnitCost,
		lot.QtyReceived, lot.QtyRemaining, lot.ReceivedAt)
	if err != nil {
		return uuid.Nil, err
	}
	return lot.ID, nil
}

// LotsForUpdate selects open lots oldest-first and locks them so two
// concurrent consumptions cannot over-draw the same lot.
func (s *txStore) LotsForUpdate(ctx context.Context, tenantID, productID, branchID uuid.UUID) ([]Lot, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, tenant_id, product_id, branch_id, unit_cost, qty_received, qty_remaining, received_at
FROM stock_lots
WHERE tenant_id=$1 AND product_id=$2 AND branch_id=$3 AND qty_remaining > 0
ORDER BY received_at ASC, id ASC
FOR UPDATE`, tenantID, productID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []Lot
	for rows.Next() {
		var lot Lot
		if err := rows.Scan(&lot.ID, &lot.TenantID, &lot.ProductID, &lot.BranchID,
			&lot.UnitCost, &lot.QtyReceived, &lot.QtyRemaining, &lot.ReceivedAt); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (s *txStore) DecrementLot(ctx context.Context, lotID uuid.UUID, qty int64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE stock_lots SET qty_remaining = qty_remaining - $2
WHERE id=$1 AND qty_remaining >= $2`, lotID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (s *txStore) GetEntry(ctx context.Context, tenantID, entryID uuid.UUID) (Entry, error) {
	var e Entry
	var entryType string
	err := s.tx.QueryRow(ctx, `SELECT id, tenant_id, product_id, branch_id, entry_type, qty, unit_cost, lot_id, actor_id, reason, reversed_entry_id, occurred_at
FROM stock_ledger_entries WHERE tenant_id=$1 AND id=$2`, tenantID, entryID).Scan(
		&e.ID, &e.TenantID, &e.ProductID, &e.BranchID, &entryType, &e.Qty,
		&e.UnitCost, &e.LotID, &e.ActorID, &e.Reason, &e.ReversedID, &e.OccurredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	e.Type = EntryType(entryType)
	return e, nil
}

func (s *txStore) MarkReversed(ctx context.Context, entryID, reversalID uuid.UUID) error {
	tag, err := s.tx.Exec(ctx, `UPDATE stock_ledger_entries SET reversed_entry_id=$2
WHERE id=$1 AND reversed_entry_id IS NULL`, entryID, reversalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyReversed
	}
	return nil
}
