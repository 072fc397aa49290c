package approvals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/platform/httpx"
	"github.com/tradewind-erp/tradewind/internal/shared"
)

// ReferenceChecker validates that a rule's referenced entities exist within
// the tenant before the rule is persisted.
type ReferenceChecker interface {
	BranchExists(ctx context.Context, tenantID, branchID uuid.UUID) (bool, error)
	RoleExists(ctx context.Context, tenantID, roleID uuid.UUID) (bool, error)
	UserExists(ctx context.Context, tenantID, userID uuid.UUID) (bool, error)
}

// RuleStore is the persistence surface the rule service depends on.
type RuleStore interface {
	CreateRule(ctx context.Context, rule Rule) error
	GetRule(ctx context.Context, tenantID, ruleID uuid.UUID) (Rule, error)
	ListRules(ctx context.Context, tenantID uuid.UUID, page shared.Page) ([]Rule, error)
	ActiveRules(ctx context.Context, tenantID uuid.UUID) ([]Rule, error)
	UpdateRule(ctx context.Context, rule Rule) error
	ArchiveRule(ctx context.Context, tenantID, ruleID, actorID uuid.UUID) error
}

// IdempotencyPort deduplicates rule creation by client-supplied key. Delete
// releases a claimed key when the guarded create did not commit, so the
// same key stays retryable.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, tenantID uuid.UUID, key, module string) error
	Delete(ctx context.Context, tenantID uuid.UUID, key string) error
}

// Service manages approval rule configuration.
type Service struct {
	store RuleStore
	refs  ReferenceChecker
	idem  IdempotencyPort
	audit AuditPort
}

// NewService builds a rule configuration service.
func NewService(store RuleStore, refs ReferenceChecker, idem IdempotencyPort, audit AuditPort) *Service {
	return &Service{store: store, refs: refs, idem: idem, audit: audit}
}

// ConditionInput is one condition of a rule being created.
type ConditionInput struct {
	Kind      ConditionKind   `json:"kind" validate:"required"`
	Threshold decimal.Decimal `json:"threshold"`
	BranchID  uuid.UUID       `json:"branch_id"`
}

// LevelInput is one level of a rule being created.
type LevelInput struct {
	Number         int        `json:"number" validate:"required,min=1"`
	RequiredRoleID *uuid.UUID `json:"required_role_id"`
	RequiredUserID *uuid.UUID `json:"required_user_id"`
	Group          string     `json:"group" validate:"max=64"`
}

// CreateRuleInput is the payload for creating a rule.
type CreateRuleInput struct {
	Name       string           `json:"name" validate:"required,max=120"`
	Priority   int              `json:"priority"`
	Mode       Mode             `json:"mode" validate:"required"`
	Conditions []ConditionInput `json:"conditions" validate:"required,min=1,dive"`
	Levels     []LevelInput     `json:"levels" validate:"required,min=1,dive"`

	IdempotencyKey string `json:"-"`
}

// CreateRule validates and persists a new rule. Level numbers must run 1..N
// with no gaps, each level names exactly one of role or user, and every
// referenced branch, role, and user must exist in the tenant.
func (s *Service) CreateRule(ctx context.Context, actor shared.Actor, input CreateRuleInput) (Rule, error) {
	if !input.Mode.IsValid() {
		return Rule{}, fmt.Errorf("%w: unknown mode %q", httpx.ErrValidation, input.Mode)
	}
	if err := s.validateConditions(ctx, actor.TenantID, input.Conditions); err != nil {
		return Rule{}, err
	}
	if err := s.validateLevels(ctx, actor.TenantID, input.Levels); err != nil {
		return Rule{}, err
	}
	claimedKey := ""
	if input.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, actor.TenantID, input.IdempotencyKey, "approval_rules"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Rule{}, fmt.Errorf("%w: duplicate idempotency key", httpx.ErrConflict)
			}
			return Rule{}, err
		}
		claimedKey = input.IdempotencyKey
	}

	now := time.Now().UTC()
	rule := Rule{
		ID:        uuid.New(),
		TenantID:  actor.TenantID,
		Name:      input.Name,
		Priority:  input.Priority,
		Mode:      input.Mode,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, cond := range input.Conditions {
		rule.Conditions = append(rule.Conditions, Condition{
			ID:        uuid.New(),
			Kind:      cond.Kind,
			Threshold: cond.Threshold,
			BranchID:  cond.BranchID,
		})
	}
	for _, level := range input.Levels {
		rule.Levels = append(rule.Levels, Level{
			ID:             uuid.New(),
			Number:         level.Number,
			RequiredRoleID: level.RequiredRoleID,
			RequiredUserID: level.RequiredUserID,
			Group:          level.Group,
		})
	}

	if err := s.store.CreateRule(ctx, rule); err != nil {
		// Release the claimed key so the client can retry with it; a failed
		// delete leaves the key to the retention sweep.
		if claimedKey != "" && s.idem != nil {
			_ = s.idem.Delete(ctx, actor.TenantID, claimedKey)
		}
		return Rule{}, err
	}
	if s.audit != nil {
		s.audit.TryRecord(ctx, shared.AuditLog{
			TenantID: actor.TenantID,
			ActorID:  actor.UserID,
			Action:   "approval_rule.create",
			Entity:   "transfer_approval_rule",
			EntityID: rule.ID.String(),
			After:    map[string]any{"name": rule.Name, "priority": rule.Priority, "mode": rule.Mode},
		})
	}
	return rule, nil
}

// GetRule returns one rule.
func (s *Service) GetRule(ctx context.Context, actor shared.Actor, ruleID uuid.UUID) (Rule, error) {
	return s.store.GetRule(ctx, actor.TenantID, ruleID)
}

// ListRules returns a page of the tenant's rules.
func (s *Service) ListRules(ctx context.Context, actor shared.Actor, page shared.Page) ([]Rule, error) {
	return s.store.ListRules(ctx, actor.TenantID, page.Clamp())
}

// UpdateRuleInput patches rule metadata. Conditions and levels are
// immutable once created; restructuring means archiving the rule and
// creating a replacement, so already materialized records stay coherent.
type UpdateRuleInput struct {
	Name     *string `json:"name" validate:"omitempty,max=120"`
	Priority *int    `json:"priority"`
	Mode     *Mode   `json:"mode"`
	IsActive *bool   `json:"is_active"`
}

// UpdateRule applies a metadata patch to an existing rule.
func (s *Service) UpdateRule(ctx context.Context, actor shared.Actor, ruleID uuid.UUID, input UpdateRuleInput) (Rule, error) {
	rule, err := s.store.GetRule(ctx, actor.TenantID, ruleID)
	if err != nil {
		return Rule{}, err
	}
	if rule.ArchivedAt != nil {
		return Rule{}, fmt.Errorf("%w: %w", httpx.ErrConflict, ErrRuleArchived)
	}

	if input.Name != nil {
		if *input.Name == "" {
			return Rule{}, fmt.Errorf("%w: name must not be empty", httpx.ErrValidation)
		}
		rule.Name = *input.Name
	}
	if input.Priority != nil {
		rule.Priority = *input.Priority
	}
	if input.Mode != nil {
		if !input.Mode.IsValid() {
			return Rule{}, fmt.Errorf("%w: unknown mode %q", httpx.ErrValidation, *input.Mode)
		}
		rule.Mode = *input.Mode
	}
	if input.IsActive != nil {
		rule.IsActive = *input.IsActive
	}
	rule.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return Rule{}, err
	}
	if s.audit != nil {
		s.audit.TryRecord(ctx, shared.AuditLog{
			TenantID: actor.TenantID,
			ActorID:  actor.UserID,
			Action:   "approval_rule.update",
			Entity:   "transfer_approval_rule",
			EntityID: rule.ID.String(),
			After:    map[string]any{"name": rule.Name, "priority": rule.Priority, "mode": rule.Mode, "is_active": rule.IsActive},
		})
	}
	return rule, nil
}

// ArchiveRule soft-deletes a rule. In-flight transfers keep their already
// materialized records; only future evaluations skip the rule.
func (s *Service) ArchiveRule(ctx context.Context, actor shared.Actor, ruleID uuid.UUID) error {
	if err := s.store.ArchiveRule(ctx, actor.TenantID, ruleID, actor.UserID); err != nil {
		return err
	}
	if s.audit != nil {
		s.audit.TryRecord(ctx, shared.AuditLog{
			TenantID: actor.TenantID,
			ActorID:  actor.UserID,
			Action:   "approval_rule.archive",
			Entity:   "transfer_approval_rule",
			EntityID: ruleID.String(),
		})
	}
	return nil
}

func (s *Service) validateConditions(ctx context.Context, tenantID uuid.UUID, conditions []ConditionInput) error {
	if len(conditions) == 0 {
		return fmt.Errorf("%w: rule needs at least one condition", httpx.ErrValidation)
	}
	for i, cond := range conditions {
		switch cond.Kind {
		case CondMinTotalQty, CondMinTotalValue:
			if cond.Threshold.IsNegative() || cond.Threshold.IsZero() {
				return fmt.Errorf("%w: condition %d: threshold must be positive", httpx.ErrValidation, i+1)
			}
		case CondSourceBranch, CondDestBranch:
			if cond.BranchID == uuid.Nil {
				return fmt.Errorf("%w: condition %d: branch_id is required", httpx.ErrValidation, i+1)
			}
			ok, err := s.refs.BranchExists(ctx, tenantID, cond.BranchID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: condition %d: branch %s not found", httpx.ErrValidation, i+1, cond.BranchID)
			}
		default:
			return fmt.Errorf("%w: condition %d: unknown kind %q", httpx.ErrValidation, i+1, cond.Kind)
		}
	}
	return nil
}

func (s *Service) validateLevels(ctx context.Context, tenantID uuid.UUID, levels []LevelInput) error {
	if len(levels) == 0 {
		return fmt.Errorf("%w: rule needs at least one level", httpx.ErrValidation)
	}
	seen := make(map[int]bool, len(levels))
	for i, level := range levels {
		if seen[level.Number] {
			return fmt.Errorf("%w: duplicate level number %d", httpx.ErrValidation, level.Number)
		}
		seen[level.Number] = true

		hasRole := level.RequiredRoleID != nil && *level.RequiredRoleID != uuid.Nil
		hasUser := level.RequiredUserID != nil && *level.RequiredUserID != uuid.Nil
		if hasRole == hasUser {
			return fmt.Errorf("%w: level %d: exactly one of required_role_id or required_user_id must be set", httpx.ErrValidation, i+1)
		}
		if hasRole {
			ok, err := s.refs.RoleExists(ctx, tenantID, *level.RequiredRoleID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: level %d: role %s not found", httpx.ErrValidation, i+1, *level.RequiredRoleID)
			}
		}
		if hasUser {
			ok, err := s.refs.UserExists(ctx, tenantID, *level.RequiredUserID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: level %d: user %s not found", httpx.ErrValidation, i+1, *level.RequiredUserID)
			}
		}
	}
	for n := 1; n <= len(levels); n++ {
		if !seen[n] {
			return fmt.Errorf("%w: level numbers must run 1..%d without gaps", httpx.ErrValidation, len(levels))
		}
	}
	return nil
}
