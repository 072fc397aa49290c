package approvals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tradewind-erp/tradewind/internal/platform/httpx"
	"github.com/tradewind-erp/tradewind/internal/shared"
)

type memRuleStore struct {
	rules []Rule
	// failCreate fails the next CreateRule once, then clears.
	failCreate error
}

func (m *memRuleStore) CreateRule(_ context.Context, rule Rule) error {
	if m.failCreate != nil {
		err := m.failCreate
		m.failCreate = nil
		return err
	}
	m.rules = append(m.rules, rule)
	return nil
}

func (m *memRuleStore) GetRule(_ context.Context, tenantID, ruleID uuid.UUID) (Rule, error) {
	for _, rule := range m.rules {
		if rule.TenantID == tenantID && rule.ID == ruleID {
			return rule, nil
		}
	}
	return Rule{}, ErrRuleNotFound
}

func (m *memRuleStore) ListRules(_ context.Context, tenantID uuid.UUID, _ shared.Page) ([]Rule, error) {
	return m.rules, nil
}

func (m *memRuleStore) ActiveRules(_ context.Context, tenantID uuid.UUID) ([]Rule, error) {
	return m.rules, nil
}

func (m *memRuleStore) UpdateRule(_ context.Context, rule Rule) error {
	for i := range m.rules {
		if m.rules[i].ID == rule.ID {
			m.rules[i] = rule
			return nil
		}
	}
	return ErrRuleNotFound
}

func (m *memRuleStore) ArchiveRule(_ context.Context, tenantID, ruleID, actorID uuid.UUID) error {
	return nil
}

type memRefs struct {
	branches map[uuid.UUID]bool
	roles    map[uuid.UUID]bool
	users    map[uuid.UUID]bool
}

func (m memRefs) BranchExists(_ context.Context, _ uuid.UUID, id uuid.UUID) (bool, error) {
	return m.branches[id], nil
}

func (m memRefs) RoleExists(_ context.Context, _ uuid.UUID, id uuid.UUID) (bool, error) {
	return m.roles[id], nil
}

func (m memRefs) UserExists(_ context.Context, _ uuid.UUID, id uuid.UUID) (bool, error) {
	return m.users[id], nil
}

func ruleTestService(refs memRefs) (*Service, *memRuleStore) {
	store := &memRuleStore{}
	return NewService(store, refs, nil, nil), store
}

// memKeyStore is an in-memory IdempotencyPort.
type memKeyStore struct {
	keys map[string]bool
}

func (m *memKeyStore) CheckAndInsert(_ context.Context, tenantID uuid.UUID, key, module string) error {
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

func (m *memKeyStore) Delete(_ context.Context, tenantID uuid.UUID, key string) error {
	delete(m.keys, tenantID.String()+"/approval_rules/"+key)
	return nil
}

func validRuleInput(roleID uuid.UUID) CreateRuleInput {
	return CreateRuleInput{
		Name:     "big transfers",
		Priority: 10,
		Mode:     ModeSequential,
		Conditions: []ConditionInput{
			{Kind: CondMinTotalQty, Threshold: decimal.NewFromInt(100)},
		},
		Levels: []LevelInput{
			{Number: 1, RequiredRoleID: &roleID},
		},
	}
}

func TestCreateRuleValid(t *testing.T) {
	roleID := uuid.New()
	svc, store := ruleTestService(memRefs{roles: map[uuid.UUID]bool{roleID: true}})
	actor := shared.Actor{TenantID: uuid.New(), UserID: uuid.New()}

	rule, err := svc.CreateRule(context.Background(), actor, validRuleInput(roleID))
	require.NoError(t, err)
	require.True(t, rule.IsActive)
	require.Equal(t, actor.TenantID, rule.TenantID)
	require.Len(t, store.rules, 1)
	require.Len(t, rule.Levels, 1)
	require.NotEqual(t, uuid.Nil, rule.Levels[0].ID)
}

func TestCreateRuleRejectsInvalid(t *testing.T) {
	roleID := uuid.New()
	userID := uuid.New()
	branchID := uuid.New()
	refs := memRefs{
		roles:    map[uuid.UUID]bool{roleID: true},
		users:    map[uuid.UUID]bool{userID: true},
		branches: map[uuid.UUID]bool{branchID: true},
	}
	actor := shared.Actor{TenantID: uuid.New(), UserID: uuid.New()}

	cases := []struct {
		name   string
		mutate func(*CreateRuleInput)
	}{
		{"unknown mode", func(in *CreateRuleInput) { in.Mode = Mode("WATERFALL") }},
		{"no conditions", func(in *CreateRuleInput) { in.Conditions = nil }},
		{"no levels", func(in *CreateRuleInput) { in.Levels = nil }},
		{"zero threshold", func(in *CreateRuleInput) {
			in.Conditions = []ConditionInput{{Kind: CondMinTotalQty, Threshold: decimal.Zero}}
		}},
		{"branch condition without branch", func(in *CreateRuleInput) {
			in.Conditions = []ConditionInput{{Kind: CondSourceBranch}}
		}},
		{"unknown branch", func(in *CreateRuleInput) {
			in.Conditions = []ConditionInput{{Kind: CondSourceBranch, BranchID: uuid.New()}}
		}},
		{"level gap", func(in *CreateRuleInput) {
			in.Levels = []LevelInput{
				{Number: 1, RequiredRoleID: &roleID},
				{Number: 3, RequiredUserID: &userID},
			}
		}},
		{"duplicate level number", func(in *CreateRuleInput) {
			in.Levels = []LevelInput{
				{Number: 1, RequiredRoleID: &roleID},
				{Number: 1, RequiredUserID: &userID},
			}
		}},
		{"level with neither role nor user", func(in *CreateRuleInput) {
			in.Levels = []LevelInput{{Number: 1}}
		}},
		{"level with both role and user", func(in *CreateRuleInput) {
			in.Levels = []LevelInput{{Number: 1, RequiredRoleID: &roleID, RequiredUserID: &userID}}
		}},
		{"unknown role", func(in *CreateRuleInput) {
			unknown := uuid.New()
			in.Levels = []LevelInput{{Number: 1, RequiredRoleID: &unknown}}
		}},
		{"unknown user", func(in *CreateRuleInput) {
			unknown := uuid.New()
			in.Levels = []LevelInput{{Number: 1, RequiredUserID: &unknown}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store := ruleTestService(refs)
			input := validRuleInput(roleID)
			tc.mutate(&input)

			_, err := svc.CreateRule(context.Background(), actor, input)
			require.ErrorIs(t, err, httpx.ErrValidation)
			require.Empty(t, store.rules)
		})
	}
}

func TestCreateRuleBranchConditionAndUserLevel(t *testing.T) {
	userID := uuid.New()
	branchID := uuid.New()
	svc, _ := ruleTestService(memRefs{
		users:    map[uuid.UUID]bool{userID: true},
		branches: map[uuid.UUID]bool{branchID: true},
	})
	actor := shared.Actor{TenantID: uuid.New(), UserID: uuid.New()}

	rule, err := svc.CreateRule(context.Background(), actor, CreateRuleInput{
		Name: "outbound from main",
		Mode: ModeParallel,
		Conditions: []ConditionInput{
			{Kind: CondSourceBranch, BranchID: branchID},
			{Kind: CondMinTotalValue, Threshold: decimal.RequireFromString("2500.00")},
		},
		Levels: []LevelInput{
			{Number: 1, RequiredUserID: &userID},
		},
	})
	require.NoError(t, err)
	require.Len(t, rule.Conditions, 2)
	require.Equal(t, branchID, rule.Conditions[0].BranchID)
}

func TestUpdateRulePatchesMetadata(t *testing.T) {
	roleID := uuid.New()
	svc, store := ruleTestService(memRefs{roles: map[uuid.UUID]bool{roleID: true}})
	actor := shared.Actor{TenantID: uuid.New(), UserID: uuid.New()}

	rule, err := svc.CreateRule(context.Background(), actor, validRuleInput(roleID))
	require.NoError(t, err)

	name := "renamed"
	priority := 99
	inactive := false
	updated, err := svc.UpdateRule(context.Background(), actor, rule.ID, UpdateRuleInput{
		Name:     &name,
		Priority: &priority,
		IsActive: &inactive,
	})
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.Name)
	require.Equal(t, 99, updated.Priority)
	require.False(t, updated.IsActive)
	require.Equal(t, ModeSequential, updated.Mode)
	require.Equal(t, "renamed", store.rules[0].Name)
}

func TestUpdateRuleRejectsBadPatch(t *testing.T) {
	roleID := uuid.New()
	svc, _ := ruleTestService(memRefs{roles: map[uuid.UUID]bool{roleID: true}})
	actor := shared.Actor{TenantID: uuid.New(), UserID: uuid.New()}

	rule, err := svc.CreateRule(context.Background(), actor, validRuleInput(roleID))
	require.NoError(t, err)

	badMode := Mode("WATERFALL")
	_, err = svc.UpdateRule(context.Background(), actor, rule.ID, UpdateRuleInput{Mode: &badMode})
	require.ErrorIs(t, err, httpx.ErrValidation)

	empty := ""
	_, err = svc.UpdateRule(context.Background(), actor, rule.ID, UpdateRuleInput{Name: &empty})
	require.ErrorIs(t, err, httpx.ErrValidation)

	name := "renamed"
	_, err = svc.UpdateRule(context.Background(), actor, uuid.New(), UpdateRuleInput{Name: &name})
	require.ErrorIs(t, err, ErrRuleNotFound)
}

func TestUpdateRuleRejectsArchived(t *testing.T) {
	roleID := uuid.New()
	svc, store := ruleTestService(memRefs{roles: map[uuid.UUID]bool{roleID: true}})
	actor := shared.Actor{TenantID: uuid.New(), UserID: uuid.New()}

	rule, err := svc.CreateRule(context.Background(), actor, validRuleInput(roleID))
	require.NoError(t, err)
	when := time.Now().UTC()
	store.rules[0].ArchivedAt = &when

	name := "renamed"
	_, err = svc.UpdateRule(context.Background(), actor, rule.ID, UpdateRuleInput{Name: &name})
	require.ErrorIs(t, err, ErrRuleArchived)
}

func TestCreateRuleReleasesKeyWhenStoreFails(t *testing.T) {
	roleID := uuid.New()
	refs := memRefs{roles: map[uuid.UUID]bool{roleID: true}}
	store := &memRuleStore{failCreate: errors.New("connection reset")}
	svc := NewService(store, refs, &memKeyStore{}, nil)
	actor := shared.Actor{TenantID: uuid.New(), UserID: uuid.New()}

	input := validRuleInput(roleID)
	input.IdempotencyKey = "rule-retry-1"
	_, err := svc.CreateRule(context.Background(), actor, input)
	require.Error(t, err)
	require.Empty(t, store.rules)

	// The same key must succeed on retry once the transient failure clears.
	_, err = svc.CreateRule(context.Background(), actor, input)
	require.NoError(t, err)
	require.Len(t, store.rules, 1)

	_, err = svc.CreateRule(context.Background(), actor, input)
	require.ErrorIs(t, err, httpx.ErrConflict)
	require.Len(t, store.rules, 1)
}
