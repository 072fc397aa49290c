package products

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewind-erp/tradewind/internal/platform/httpx"
)

// Repository persists products.
type Repository interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (Product, error)
	List(ctx context.Context, tenantID uuid.UUID, includeArchived bool) ([]Product, error)
	Create(ctx context.Context, product Product) (Product, error)
	Archive(ctx context.Context, tenantID, id, actorID uuid.UUID) error
	ExistsActive(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const productColumns = `id, tenant_id, sku, name, description, unit_cost, is_active, archived_at, archived_by, created_at, updated_at`

func (r *repository) Get(ctx context.Context, tenantID, id uuid.UUID) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE tenant_id=$1 AND id=$2`, tenantID, id).Scan(
		&p.ID, &p.TenantID, &p.SKU, &p.Name, &p.Description, &p.UnitCost,
		&p.IsActive, &p.ArchivedAt, &p.ArchivedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, httpx.ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func (r *repository) List(ctx context.Context, tenantID uuid.UUID, includeArchived bool) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE tenant_id=$1`
	if !includeArchived {
		query += ` AND is_active`
	}
	query += ` ORDER BY sku`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.SKU, &p.Name, &p.Description, &p.UnitCost,
			&p.IsActive, &p.ArchivedAt, &p.ArchivedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *repository) Create(ctx context.Context, product Product) (Product, error) {
	product.ID = uuid.New()
	product.IsActive = true
	err := r.pool.QueryRow(ctx, `INSERT INTO products (id, tenant_id, sku, name, description, unit_cost, is_active)
VALUES ($1, $2, $3, $4, $5, $6, true) RETURNING created_at, updated_at`,
		product.ID, product.TenantID, product.SKU, product.Name, product.Description, product.UnitCost,
	).Scan(&product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Product{}, httpx.ErrConflict
		}
		return Product{}, err
	}
	return product, nil
}

func (r *repository) Archive(ctx context.Context, tenantID, id, actorID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET is_active=false, archived_at=$3, archived_by=$4, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2 AND is_active`, tenantID, id, time.Now(), actorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

func (r *repository) ExistsActive(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT true FROM products WHERE tenant_id=$1 AND id=$2 AND is_active`, tenantID, id).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}
