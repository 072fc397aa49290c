// Package approvals implements the configurable multi-level approval engine
// for stock transfers: rule evaluation at transfer creation and individual
// level sign-off processing.
package approvals

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Mode controls level ordering for a rule.
type Mode string

const (
	// ModeSequential requires levels approved strictly in order.
	ModeSequential Mode = "SEQUENTIAL"
	// ModeParallel allows any pending level to be approved in any order.
	ModeParallel Mode = "PARALLEL"
	// ModeHybrid orders levels only within an explicit group tag; levels in
	// different groups (or ungrouped) are independent.
	ModeHybrid Mode = "HYBRID"
)

// IsValid reports whether the mode is known.
func (m Mode) IsValid() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeHybrid:
		return true
	default:
		return false
	}
}

// ConditionKind discriminates the condition variants.
type ConditionKind string

const (
	// CondMinTotalQty matches transfers whose total requested quantity
	// reaches the threshold.
	CondMinTotalQty ConditionKind = "MIN_TOTAL_QTY"
	// CondMinTotalValue matches transfers whose total requested value
	// reaches the threshold.
	CondMinTotalValue ConditionKind = "MIN_TOTAL_VALUE"
	// CondSourceBranch matches transfers leaving the given branch.
	CondSourceBranch ConditionKind = "SOURCE_BRANCH"
	// CondDestBranch matches transfers arriving at the given branch.
	CondDestBranch ConditionKind = "DEST_BRANCH"
)

// Condition is one predicate of a rule; all of a rule's conditions must
// match (AND semantics). Threshold is set for the quantity/value kinds,
// BranchID for the branch kinds.
type Condition struct {
	ID        uuid.UUID       `json:"id"`
	Kind      ConditionKind   `json:"kind"`
	Threshold decimal.Decimal `json:"threshold,omitempty"`
	BranchID  uuid.UUID       `json:"branch_id,omitempty"`
}

// Level is one required sign-off, tied to either a role or a specific user.
// Number runs 1..N with no gaps. Group is only meaningful in HYBRID mode.
type Level struct {
	ID             uuid.UUID  `json:"id"`
	Number         int        `json:"number"`
	RequiredRoleID *uuid.UUID `json:"required_role_id,omitempty"`
	RequiredUserID *uuid.UUID `json:"required_user_id,omitempty"`
	Group          string     `json:"group,omitempty"`
}

// Rule is a tenant-scoped approval rule. Archiving is soft: archived rules
// are excluded from evaluation but preserved for history.
type Rule struct {
	ID         uuid.UUID   `json:"id"`
	TenantID   uuid.UUID   `json:"tenant_id"`
	Name       string      `json:"name"`
	Priority   int         `json:"priority"`
	Mode       Mode        `json:"mode"`
	IsActive   bool        `json:"is_active"`
	ArchivedAt *time.Time  `json:"archived_at,omitempty"`
	ArchivedBy *uuid.UUID  `json:"archived_by,omitempty"`
	Conditions []Condition `json:"conditions"`
	Levels     []Level     `json:"levels"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// RecordStatus is the lifecycle of a single level sign-off.
type RecordStatus string

const (
	RecordPending  RecordStatus = "PENDING"
	RecordApproved RecordStatus = "APPROVED"
	RecordRejected RecordStatus = "REJECTED"
)

// Record is one (transfer, level) sign-off slot, created atomically when a
// rule matches at transfer creation and never recreated.
type Record struct {
	ID             uuid.UUID    `json:"id"`
	TransferID     uuid.UUID    `json:"transfer_id"`
	RuleID         uuid.UUID    `json:"rule_id"`
	Level          int          `json:"level"`
	Mode           Mode         `json:"mode"`
	Group          string       `json:"group,omitempty"`
	RequiredRoleID *uuid.UUID   `json:"required_role_id,omitempty"`
	RequiredUserID *uuid.UUID   `json:"required_user_id,omitempty"`
	Status         RecordStatus `json:"status"`
	ApproverID     *uuid.UUID   `json:"approver_id,omitempty"`
	Notes          string       `json:"notes,omitempty"`
	DecidedAt      *time.Time   `json:"decided_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// MatchResult is the outcome of evaluating the rule set against a candidate
// transfer. A nil Rule means no rule matched and the transfer proceeds as
// pre-approved.
type MatchResult struct {
	Rule *Rule
}

// Matched reports whether any rule matched.
func (r MatchResult) Matched() bool {
	return r.Rule != nil
}

var (
	// ErrRuleNotFound indicates a missing or cross-tenant rule.
	ErrRuleNotFound = errors.New("approvals: rule not found")
	// ErrRecordNotFound indicates the named level has no record.
	ErrRecordNotFound = errors.New("approvals: approval record not found")
	// ErrRecordNotPending indicates the record was already decided.
	ErrRecordNotPending = errors.New("approvals: approval record already decided")
	// ErrNotRequired indicates the transfer does not require multi-level approval.
	ErrNotRequired = errors.New("approvals: transfer does not require approval")
	// ErrTransferNotPending indicates the transfer left REQUESTED status.
	ErrTransferNotPending = errors.New("approvals: transfer is not awaiting approval")
	// ErrPreviousLevelsIncomplete indicates sequential ordering was violated.
	ErrPreviousLevelsIncomplete = errors.New("approvals: previous levels incomplete")
	// ErrNotRequiredApprover indicates the submitting user does not satisfy
	// the level requirement.
	ErrNotRequiredApprover = errors.New("approvals: user is not the required approver")
	// ErrRuleArchived indicates a write against an archived rule.
	ErrRuleArchived = errors.New("approvals: rule is archived")
)
