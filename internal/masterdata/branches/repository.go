package branches

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

// Repository persists branches.
type Repository interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (Branch, error)
	List(ctx context.Context, tenantID uuid.UUID, includeArchived bool) ([]Branch, error)
	Create(ctx context.Context, branch Branch) (Branch, error)
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

const branchColumns = `id, tenant_id, code, name, address, is_active, archived_at, archived_by, created_at, updated_at`

func (r *repository) Get(ctx context.Context, tenantID, id uuid.UUID) (Branch, error) {
	var b Branch
	err := r.pool.QueryRow(ctx, `SELECT `+branchColumns+` FROM branches WHERE tenant_id=$1 AND id=$2`, tenantID, id).Scan(
		&b.ID, &b.TenantID, &b.Code, &b.Name, &b.Address, &b.IsActive,
		&b.ArchivedAt, &b.ArchivedBy, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Branch{}, httpx.ErrNotFound
		}
		return Branch{}, err
	}
	return b, nil
}

func (r *repository) List(ctx context.Context, tenantID uuid.UUID, includeArchived bool) ([]Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches WHERE tenant_id=$1`
	if !includeArchived {
		query += ` AND is_active`
	}
	query += ` ORDER BY code`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.TenantID, &b.Code, &b.Name, &b.Address, &b.IsActive,
			&b.ArchivedAt, &b.ArchivedBy, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (r *repository) Create(ctx context.Context, branch Branch) (Branch, error) {
	branch.ID = uuid.New()
	branch.IsActive = true
	err := r.pool.QueryRow(ctx, `INSERT INTO branches (id, tenant_id, code, name, address, is_active)
VALUES ($1, $2, $3, $4, $5, true) RETURNING created_at, updated_at`,
		branch.ID, branch.TenantID, branch.Code, branch.Name, branch.Address,
	).Scan(&branch.CreatedAt, &branch.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Branch{}, httpx.ErrConflict
		}
		return Branch{}, err
	}
	return branch, nil
}

// Archive marks the branch inactive instead of deleting it, because ledger
// entries and transfers keep referencing it.
func (r *repository) Archive(ctx context.Context, tenantID, id, actorID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE branches SET is_active=false, archived_at=$3, archived_by=$4, updated_at=NOW()
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
	err := r.pool.QueryRow(ctx, `SELECT true FROM branches WHERE tenant_id=$1 AND id=$2 AND is_active`, tenantID, id).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}
