package transfers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewind-erp/tradewind/internal/approvals"
	"github.com/tradewind-erp/tradewind/internal/ledger"
	"github.com/tradewind-erp/tradewind/internal/platform/db"
	"github.com/tradewind-erp/tradewind/internal/shared"
)

// TxRepository is the write surface of one transfer operation. The same
// transaction backs item updates, ledger writes, and approval record
// creation, so a failing step rolls back all of them.
type TxRepository interface {
	InsertTransfer(ctx context.Context, t Transfer) error
	InsertItems(ctx context.Context, items []Item) error
	GetTransferForUpdate(ctx context.Context, tenantID, transferID uuid.UUID) (Transfer, error)
	ItemsForUpdate(ctx context.Context, transferID uuid.UUID) ([]Item, error)
	UpdateTransfer(ctx context.Context, t Transfer) error
	UpdateItemCounters(ctx context.Context, item Item) error
	NextNumber(ctx context.Context, tenantID uuid.UUID, year int) (int64, error)
	InsertApprovalRecords(ctx context.Context, records []approvals.Record) error
	Ledger() ledger.TxStore
}

// Repository opens transfer transactions and serves reads.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransfer(ctx context.Context, tenantID, transferID uuid.UUID) (Transfer, []Item, error)
	ListTransfers(ctx context.Context, tenantID uuid.UUID, page shared.Page) ([]Transfer, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the Postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

const transferColumns = `id, tenant_id, number, source_branch_id, dest_branch_id, status,
	requester_id, reviewer_id, expected_delivery, notes, requires_approval,
	reversal_of_transfer_id, reversed_by_transfer_id, version, created_at, updated_at`

const itemColumns = `id, transfer_id, product_id, qty_requested, qty_approved,
	qty_shipped, qty_received, avg_unit_cost, created_at`

func (r *pgRepository) GetTransfer(ctx context.Context, tenantID, transferID uuid.UUID) (Transfer, []Item, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM stock_transfers WHERE tenant_id = $1 AND id = $2`,
		tenantID, transferID)
	transfer, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, nil, ErrTransferNotFound
		}
		return Transfer{}, nil, fmt.Errorf("transfers: get transfer: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM stock_transfer_items WHERE transfer_id = $1 ORDER BY created_at ASC, id ASC`,
		transferID)
	if err != nil {
		return Transfer{}, nil, fmt.Errorf("transfers: get items: %w", err)
	}
	defer rows.Close()
	items, err := scanItems(rows)
	if err != nil {
		return Transfer{}, nil, err
	}
	return transfer, items, nil
}

func (r *pgRepository) ListTransfers(ctx context.Context, tenantID uuid.UUID, page shared.Page) ([]Transfer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transferColumns+` FROM stock_transfers
		 WHERE tenant_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		tenantID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("transfers: list transfers: %w", err)
	}
	defer rows.Close()

	transfers := make([]Transfer, 0)
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("transfers: scan transfer: %w", err)
		}
		transfers = append(transfers, transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transfers: list transfers: %w", err)
	}
	return transfers, nil
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) InsertTransfer(ctx context.Context, t Transfer) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO stock_transfers
			(id, tenant_id, number, source_branch_id, dest_branch_id, status,
			 requester_id, reviewer_id, expected_delivery, notes, requires_approval,
			 reversal_of_transfer_id, reversed_by_transfer_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`,
		t.ID, t.TenantID, t.Number, t.SourceBranchID, t.DestBranchID, t.Status,
		t.RequesterID, t.ReviewerID, t.ExpectedDelivery, t.Notes, t.RequiresApproval,
		t.ReversalOfID, t.ReversedByID, t.Version, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("transfers: insert transfer: %w", err)
	}
	return nil
}

func (r *pgTxRepository) InsertItems(ctx context.Context, items []Item) error {
	for _, item := range items {
		_, err := r.tx.Exec(ctx, `
			INSERT INTO stock_transfer_items
				(id, transfer_id, product_id, qty_requested, qty_approved, qty_shipped, qty_received, avg_unit_cost, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			item.ID, item.TransferID, item.ProductID, item.QtyRequested, item.QtyApproved,
			item.QtyShipped, item.QtyReceived, item.AvgUnitCost, item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("transfers: insert item: %w", err)
		}
	}
	return nil
}

func (r *pgTxRepository) GetTransferForUpdate(ctx context.Context, tenantID, transferID uuid.UUID) (Transfer, error) {
	row := r.tx.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM stock_transfers WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
		tenantID, transferID)
	transfer, err := scanTransfer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrTransferNotFound
	}
	if err != nil {
		return Transfer{}, fmt.Errorf("transfers: lock transfer: %w", err)
	}
	return transfer, nil
}

func (r *pgTxRepository) ItemsForUpdate(ctx context.Context, transferID uuid.UUID) ([]Item, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT `+itemColumns+` FROM stock_transfer_items WHERE transfer_id = $1 ORDER BY created_at ASC, id ASC FOR UPDATE`,
		transferID)
	if err != nil {
		return nil, fmt.Errorf("transfers: lock items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// UpdateTransfer writes status, links, and reviewer with a version
// compare-and-swap. A zero row count means a concurrent writer won.
func (r *pgTxRepository) UpdateTransfer(ctx context.Context, t Transfer) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE stock_transfers
		SET status = $3, reviewer_id = $4, requires_approval = $5,
		    reversal_of_transfer_id = $6, reversed_by_transfer_id = $7,
		    version = version + 1, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND version = $8`,
		t.TenantID, t.ID, t.Status, t.ReviewerID, t.RequiresApproval,
		t.ReversalOfID, t.ReversedByID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("transfers: update transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrentModification
	}
	return nil
}

func (r *pgTxRepository) UpdateItemCounters(ctx context.Context, item Item) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE stock_transfer_items
		SET qty_approved = $2, qty_shipped = $3, qty_received = $4, avg_unit_cost = $5
		WHERE id = $1`,
		item.ID, item.QtyApproved, item.QtyShipped, item.QtyReceived, item.AvgUnitCost,
	)
	if err != nil {
		return fmt.Errorf("transfers: update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// NextNumber allocates the next per-tenant, per-year transfer sequence.
func (r *pgTxRepository) NextNumber(ctx context.Context, tenantID uuid.UUID, year int) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO transfer_number_seqs (tenant_id, year, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, year)
		DO UPDATE SET seq = transfer_number_seqs.seq + 1
		RETURNING seq`,
		tenantID, year,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("transfers: next number: %w", err)
	}
	return seq, nil
}

func (r *pgTxRepository) InsertApprovalRecords(ctx context.Context, records []approvals.Record) error {
	return approvals.InsertRecordsTx(ctx, r.tx, records)
}

func (r *pgTxRepository) Ledger() ledger.TxStore {
	return ledger.NewTxStore(r.tx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (Transfer, error) {
	var t Transfer
	err := row.Scan(
		&t.ID, &t.TenantID, &t.Number, &t.SourceBranchID, &t.DestBranchID, &t.Status,
		&t.RequesterID, &t.ReviewerID, &t.ExpectedDelivery, &t.Notes, &t.RequiresApproval,
		&t.ReversalOfID, &t.ReversedByID, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func scanItems(rows pgx.Rows) ([]Item, error) {
	items := make([]Item, 0)
	for rows.Next() {
		var item Item
		if err := rows.Scan(
			&item.ID, &item.TransferID, &item.ProductID, &item.QtyRequested, &item.QtyApproved,
			&item.QtyShipped, &item.QtyReceived, &item.AvgUnitCost, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("transfers: scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transfers: scan items: %w", err)
	}
	return items, nil
}
