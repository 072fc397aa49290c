package approvals

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EvalInput summarises the candidate transfer for rule matching.
type EvalInput struct {
	SourceBranchID uuid.UUID
	DestBranchID   uuid.UUID
	TotalQty       int64
	TotalValue     decimal.Decimal
}

// RuleSource fetches the active rule set for a tenant.
type RuleSource interface {
	ActiveRules(ctx context.Context, tenantID uuid.UUID) ([]Rule, error)
}

// Engine evaluates a tenant's rule set against candidate transfers.
// Evaluation happens exactly once, at transfer creation; rules edited later
// never apply retroactively.
type Engine struct {
	rules RuleSource
}

// NewEngine constructs an Engine.
func NewEngine(rules RuleSource) *Engine {
	return &Engine{rules: rules}
}

// Evaluate returns the first matching rule in priority order, or an empty
// MatchResult when nothing matches.
func (e *Engine) Evaluate(ctx context.Context, tenantID uuid.UUID, input EvalInput) (MatchResult, error) {
	rules, err := e.rules.ActiveRules(ctx, tenantID)
	if err != nil {
		return MatchResult{}, err
	}
	if match := FirstMatch(rules, input); match != nil {
		return MatchResult{Rule: match}, nil
	}
	return MatchResult{}, nil
}

// FirstMatch scans rules ordered by priority descending (creation time
// ascending as tie-break) and returns the first whose conditions all hold.
func FirstMatch(rules []Rule, input EvalInput) *Rule {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	for i := range ordered {
		if ruleMatches(ordered[i], input) {
			return &ordered[i]
		}
	}
	return nil
}

func ruleMatches(rule Rule, input EvalInput) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	for _, cond := range rule.Conditions {
		if !conditionMatches(cond, input) {
			return false
		}
	}
	return true
}

func conditionMatches(cond Condition, input EvalInput) bool {
	switch cond.Kind {
	case CondMinTotalQty:
		return decimal.NewFromInt(input.TotalQty).GreaterThanOrEqual(cond.Threshold)
	case CondMinTotalValue:
		return input.TotalValue.GreaterThanOrEqual(cond.Threshold)
	case CondSourceBranch:
		return input.SourceBranchID == cond.BranchID
	case CondDestBranch:
		return input.DestBranchID == cond.BranchID
	default:
		return false
	}
}

// MaterializeRecords builds one PENDING record per rule level for a
// freshly created transfer.
func MaterializeRecords(rule Rule, transferID uuid.UUID) []Record {
	records := make([]Record, 0, len(rule.Levels))
	for _, level := range rule.Levels {
		records = append(records, Record{
			ID:             uuid.New(),
			TransferID:     transferID,
			RuleID:         rule.ID,
			Level:          level.Number,
			Mode:           rule.Mode,
			Group:          level.Group,
			RequiredRoleID: level.RequiredRoleID,
			RequiredUserID: level.RequiredUserID,
			Status:         RecordPending,
		})
	}
	return records
}
