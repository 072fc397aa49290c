package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads ledger state and opens write transactions.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	OnHand(ctx context.Context, tenantID, productID, branchID uuid.UUID) (int64, error)
	StockCard(ctx context.Context, filter CardFilter) ([]Entry, error)
	OpenLots(ctx context.Context, tenantID, productID, branchID uuid.UUID) ([]Lot, error)
}

// CardFilter filters stock card entries.
type CardFilter struct {
	TenantID  uuid.UUID
	ProductID uuid.UUID
	BranchID  uuid.UUID
	From      time.Time
	To        time.Time
	Limit     int
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, NewTxStore(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// OnHand returns the signed sum of ledger entries for (product, branch).
func (r *repository) OnHand(ctx context.Context, tenantID, productID, branchID uuid.UUID) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(qty), 0) FROM stock_ledger_entries
WHERE tenant_id=$1 AND product_id=$2 AND branch_id=$3`, tenantID, productID, branchID).Scan(&total)
	return total, err
}

func (r *repository) StockCard(ctx context.Context, filter CardFilter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, product_id, branch_id, entry_type, qty, unit_cost, lot_id, actor_id, reason, reversed_entry_id, occurred_at
FROM stock_ledger_entries
WHERE tenant_id=$1 AND product_id=$2 AND branch_id=$3
  AND ($4::timestamptz IS NULL OR occurred_at >= $4)
  AND ($5::timestamptz IS NULL OR occurred_at <= $5)
ORDER BY occurred_at ASC, id ASC
LIMIT $6`,
		filter.TenantID, filter.ProductID, filter.BranchID,
		nullableTime(filter.From), nullableTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var entryType string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ProductID, &e.BranchID, &entryType,
			&e.Qty, &e.UnitCost, &e.LotID, &e.ActorID, &e.Reason, &e.ReversedID, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Type = EntryType(entryType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repository) OpenLots(ctx context.Context, tenantID, productID, branchID uuid.UUID) ([]Lot, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, product_id, branch_id, unit_cost, qty_received, qty_remaining, received_at
FROM stock_lots
WHERE tenant_id=$1 AND product_id=$2 AND branch_id=$3 AND qty_remaining > 0
ORDER BY received_at ASC, id ASC`, tenantID, productID, branchID)
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

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
