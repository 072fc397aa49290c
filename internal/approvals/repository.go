package approvals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewind-erp/tradewind/internal/platform/db"
	"github.com/tradewind-erp/tradewind/internal/platform/httpx"
	"github.com/tradewind-erp/tradewind/internal/shared"
)

// Repository persists approval rules and records in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a Repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateRule inserts a rule with its conditions and levels in one
// transaction so a rule is never visible half-built.
func (r *Repository) CreateRule(ctx context.Context, rule Rule) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO transfer_approval_rules (id, tenant_id, name, priority, mode, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
			rule.ID, rule.TenantID, rule.Name, rule.Priority, rule.Mode, rule.IsActive, rule.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("approvals: insert rule: %w", err)
		}
		for _, cond := range rule.Conditions {
			var branchID *uuid.UUID
			if cond.BranchID != uuid.Nil {
				branchID = &cond.BranchID
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO transfer_approval_rule_conditions (id, rule_id, kind, threshold, branch_id)
				VALUES ($1, $2, $3, $4, $5)`,
				cond.ID, rule.ID, cond.Kind, cond.Threshold, branchID,
			)
			if err != nil {
				return fmt.Errorf("approvals: insert condition: %w", err)
			}
		}
		for _, level := range rule.Levels {
			_, err := tx.Exec(ctx, `
				INSERT INTO transfer_approval_rule_levels (id, rule_id, number, required_role_id, required_user_id, level_group)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				level.ID, rule.ID, level.Number, level.RequiredRoleID, level.RequiredUserID, level.Group,
			)
			if err != nil {
				return fmt.Errorf("approvals: insert level: %w", err)
			}
		}
		return nil
	})
}

// GetRule loads one rule with its conditions and levels.
func (r *Repository) GetRule(ctx context.Context, tenantID, ruleID uuid.UUID) (Rule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, priority, mode, is_active, archived_at, archived_by, created_at, updated_at
		FROM transfer_approval_rules
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, ruleID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, fmt.Errorf("%w: %w", httpx.ErrNotFound, ErrRuleNotFound)
		}
		return Rule{}, fmt.Errorf("approvals: get rule: %w", err)
	}
	if err := r.loadRuleChildren(ctx, &rule); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// ListRules returns all of a tenant's rules, archived included, ordered the
// same way evaluation orders them.
func (r *Repository) ListRules(ctx context.Context, tenantID uuid.UUID, page shared.Page) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, name, priority, mode, is_active, archived_at, archived_by, created_at, updated_at
		FROM transfer_approval_rules
		WHERE tenant_id = $1
		ORDER BY priority DESC, created_at ASC
		LIMIT $2 OFFSET $3`,
		tenantID, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("approvals: list rules: %w", err)
	}
	defer rows.Close()

	rules := make([]Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("approvals: scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("approvals: list rules: %w", err)
	}
	for i := range rules {
		if err := r.loadRuleChildren(ctx, &rules[i]); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

// ActiveRules returns the non-archived, active rules for evaluation.
func (r *Repository) ActiveRules(ctx context.Context, tenantID uuid.UUID) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, name, priority, mode, is_active, archived_at, archived_by, created_at, updated_at
		FROM transfer_approval_rules
		WHERE tenant_id = $1 AND is_active AND archived_at IS NULL
		ORDER BY priority DESC, created_at ASC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("approvals: active rules: %w", err)
	}
	defer rows.Close()

	rules := make([]Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("approvals: scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("approvals: active rules: %w", err)
	}
	for i := range rules {
		if err := r.loadRuleChildren(ctx, &rules[i]); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

// UpdateRule persists a metadata patch. Archived rules are immutable.
func (r *Repository) UpdateRule(ctx context.Context, rule Rule) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transfer_approval_rules
		SET name = $3, priority = $4, mode = $5, is_active = $6, updated_at = $7
		WHERE tenant_id = $1 AND id = $2 AND archived_at IS NULL`,
		rule.TenantID, rule.ID, rule.Name, rule.Priority, rule.Mode, rule.IsActive, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("approvals: update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, getErr := r.GetRule(ctx, rule.TenantID, rule.ID)
		if getErr != nil {
			return getErr
		}
		if current.ArchivedAt != nil {
			return fmt.Errorf("%w: %w", httpx.ErrConflict, ErrRuleArchived)
		}
		return fmt.Errorf("%w: %w", httpx.ErrNotFound, ErrRuleNotFound)
	}
	return nil
}

// ArchiveRule soft-deletes a rule. Already-archived rules conflict.
func (r *Repository) ArchiveRule(ctx context.Context, tenantID, ruleID, actorID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transfer_approval_rules
		SET is_active = false, archived_at = $3, archived_by = $4, updated_at = $3
		WHERE tenant_id = $1 AND id = $2 AND archived_at IS NULL`,
		tenantID, ruleID, time.Now().UTC(), actorID,
	)
	if err != nil {
		return fmt.Errorf("approvals: archive rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		rule, getErr := r.GetRule(ctx, tenantID, ruleID)
		if getErr != nil {
			return getErr
		}
		if rule.ArchivedAt != nil {
			return fmt.Errorf("%w: %w", httpx.ErrConflict, ErrRuleArchived)
		}
		return fmt.Errorf("%w: %w", httpx.ErrNotFound, ErrRuleNotFound)
	}
	return nil
}

// RecordsForTransfer lists a transfer's approval records in level order.
func (r *Repository) RecordsForTransfer(ctx context.Context, tenantID, transferID uuid.UUID) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ar.id, ar.transfer_id, ar.rule_id, ar.level, ar.mode, ar.level_group,
		       ar.required_role_id, ar.required_user_id, ar.status, ar.approver_id,
		       ar.notes, ar.decided_at, ar.created_at
		FROM transfer_approval_records ar
		JOIN stock_transfers t ON t.id = ar.transfer_id
		WHERE t.tenant_id = $1 AND ar.transfer_id = $2
		ORDER BY ar.level ASC`,
		tenantID, transferID,
	)
	if err != nil {
		return nil, fmt.Errorf("approvals: records for transfer: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (r *Repository) loadRuleChildren(ctx context.Context, rule *Rule) error {
	condRows, err := r.pool.Query(ctx, `
		SELECT id, kind, threshold, branch_id
		FROM transfer_approval_rule_conditions
		WHERE rule_id = $1
		ORDER BY kind ASC`,
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("approvals: rule conditions: %w", err)
	}
	defer condRows.Close()
	rule.Conditions = rule.Conditions[:0]
	for condRows.Next() {
		var cond Condition
		var branchID *uuid.UUID
		if err := condRows.Scan(&cond.ID, &cond.Kind, &cond.Threshold, &branchID); err != nil {
			return fmt.Errorf("approvals: scan condition: %w", err)
		}
		if branchID != nil {
			cond.BranchID = *branchID
		}
		rule.Conditions = append(rule.Conditions, cond)
	}
	if err := condRows.Err(); err != nil {
		return fmt.Errorf("approvals: rule conditions: %w", err)
	}

	levelRows, err := r.pool.Query(ctx, `
		SELECT id, number, required_role_id, required_user_id, level_group
		FROM transfer_approval_rule_levels
		WHERE rule_id = $1
		ORDER BY number ASC`,
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("approvals: rule levels: %w", err)
	}
	defer levelRows.Close()
	rule.Levels = rule.Levels[:0]
	for levelRows.Next() {
		var level Level
		if err := levelRows.Scan(&level.ID, &level.Number, &level.RequiredRoleID, &level.RequiredUserID, &level.Group); err != nil {
			return fmt.Errorf("approvals: scan level: %w", err)
		}
		rule.Levels = append(rule.Levels, level)
	}
	if err := levelRows.Err(); err != nil {
		return fmt.Errorf("approvals: rule levels: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (Rule, error) {
	var rule Rule
	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Priority, &rule.Mode,
		&rule.IsActive, &rule.ArchivedAt, &rule.ArchivedBy, &rule.CreatedAt, &rule.UpdatedAt,
	)
	return rule, err
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.TransferID, &rec.RuleID, &rec.Level, &rec.Mode, &rec.Group,
			&rec.RequiredRoleID, &rec.RequiredUserID, &rec.Status, &rec.ApproverID,
			&rec.Notes, &rec.DecidedAt, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("approvals: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("approvals: scan records: %w", err)
	}
	return records, nil
}

// InsertRecordsTx writes the materialized PENDING records inside the caller's
// transaction, typically the transfer-creation transaction.
func InsertRecordsTx(ctx context.Context, tx pgx.Tx, records []Record) error {
	now := time.Now().UTC()
	for _, rec := range records {
		_, err := tx.Exec(ctx, `
			INSERT INTO transfer_approval_records
				(id, transfer_id, rule_id, level, mode, level_group, required_role_id, required_user_id, status, notes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', $10)`,
			rec.ID, rec.TransferID, rec.RuleID, rec.Level, rec.Mode, rec.Group,
			rec.RequiredRoleID, rec.RequiredUserID, rec.Status, now,
		)
		if err != nil {
			return fmt.Errorf("approvals: insert record: %w", err)
		}
	}
	return nil
}

// pgProcessorTx implements ProcessorTx over a live pgx transaction.
type pgProcessorTx struct {
	tx pgx.Tx
}

// ProcessorRepo adapts the pool to the Processor's transactional contract.
type ProcessorRepo struct {
	pool *pgxpool.Pool
}

// NewProcessorRepo builds a ProcessorRepo.
func NewProcessorRepo(pool *pgxpool.Pool) *ProcessorRepo {
	return &ProcessorRepo{pool: pool}
}

// WithTx runs one approval decision in a single transaction.
func (r *ProcessorRepo) WithTx(ctx context.Context, fn func(context.Context, ProcessorTx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, pgProcessorTx{tx: tx})
	})
}

func (p pgProcessorTx) GetTransferForUpdate(ctx context.Context, tenantID, transferID uuid.UUID) (TransferState, error) {
	var state TransferState
	err := p.tx.QueryRow(ctx, `
		SELECT id, status, requires_approval, version
		FROM stock_transfers
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE`,
		tenantID, transferID,
	).Scan(&state.ID, &state.Status, &state.RequiresApproval, &state.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return TransferState{}, fmt.Errorf("%w: transfer %s", httpx.ErrNotFound, transferID)
	}
	if err != nil {
		return TransferState{}, fmt.Errorf("approvals: load transfer: %w", err)
	}
	return state, nil
}

func (p pgProcessorTx) RecordsForUpdate(ctx context.Context, transferID uuid.UUID) ([]Record, error) {
	rows, err := p.tx.Query(ctx, `
		SELECT id, transfer_id, rule_id, level, mode, level_group,
		       required_role_id, required_user_id, status, approver_id,
		       notes, decided_at, created_at
		FROM transfer_approval_records
		WHERE transfer_id = $1
		ORDER BY level ASC
		FOR UPDATE`,
		transferID,
	)
	if err != nil {
		return nil, fmt.Errorf("approvals: records for update: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (p pgProcessorTx) DecideRecord(ctx context.Context, recordID uuid.UUID, status RecordStatus, approverID uuid.UUID, notes string, decidedAt time.Time) error {
	tag, err := p.tx.Exec(ctx, `
		UPDATE transfer_approval_records
		SET status = $2, approver_id = $3, notes = $4, decided_at = $5
		WHERE id = $1 AND status = 'PENDING'`,
		recordID, status, approverID, notes, decidedAt,
	)
	if err != nil {
		return fmt.Errorf("approvals: decide record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotPending
	}
	return nil
}

func (p pgProcessorTx) PromoteTransfer(ctx context.Context, tenantID, transferID uuid.UUID, version int) error {
	tag, err := p.tx.Exec(ctx, `
		UPDATE stock_transfers
		SET status = 'APPROVED', version = version + 1, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND version = $3`,
		tenantID, transferID, version,
	)
	if err != nil {
		return fmt.Errorf("approvals: promote transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrentModification
	}
	_, err = p.tx.Exec(ctx, `
		UPDATE stock_transfer_items
		SET qty_approved = qty_requested
		WHERE transfer_id = $1`,
		transferID,
	)
	if err != nil {
		return fmt.Errorf("approvals: approve items: %w", err)
	}
	return nil
}

func (p pgProcessorTx) CancelTransfer(ctx context.Context, tenantID, transferID uuid.UUID, version int) error {
	tag, err := p.tx.Exec(ctx, `
		UPDATE stock_transfers
		SET status = 'CANCELLED', version = version + 1, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND version = $3`,
		tenantID, transferID, version,
	)
	if err != nil {
		return fmt.Errorf("approvals: cancel transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrentModification
	}
	return nil
}
