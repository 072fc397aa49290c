package approvals

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// memProcessorRepo keeps transfer and record state in memory and hands the
// processor a transactional view over it. Mutations apply directly; tests
// that need rollback semantics assert on the error path instead.
type memProcessorRepo struct {
	transfer TransferState
	tenantID uuid.UUID
	records  []Record
	promoted bool
}

func (m *memProcessorRepo) WithTx(ctx context.Context, fn func(context.Context, ProcessorTx) error) error {
	return fn(ctx, m)
}

func (m *memProcessorRepo) GetTransferForUpdate(_ context.Context, tenantID, transferID uuid.UUID) (TransferState, error) {
	if tenantID != m.tenantID || transferID != m.transfer.ID {
		return TransferState{}, ErrRecordNotFound
	}
	return m.transfer, nil
}

func (m *memProcessorRepo) RecordsForUpdate(_ context.Context, transferID uuid.UUID) ([]Record, error) {
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *memProcessorRepo) DecideRecord(_ context.Context, recordID uuid.UUID, status RecordStatus, approverID uuid.UUID, notes string, decidedAt time.Time) error {
	for i := range m.records {
		if m.records[i].ID == recordID {
			if m.records[i].Status != RecordPending {
				return ErrRecordNotPending
			}
			m.records[i].Status = status
			m.records[i].ApproverID = &approverID
			m.records[i].Notes = notes
			m.records[i].DecidedAt = &decidedAt
			return nil
		}
	}
	return ErrRecordNotFound
}

func (m *memProcessorRepo) PromoteTransfer(_ context.Context, tenantID, transferID uuid.UUID, version int) error {
	m.transfer.Status = "APPROVED"
	m.transfer.Version++
	m.promoted = true
	return nil
}

func (m *memProcessorRepo) CancelTransfer(_ context.Context, tenantID, transferID uuid.UUID, version int) error {
	m.transfer.Status = transferStatusCancelled
	m.transfer.Version++
	return nil
}

// memRoles answers role checks from a fixed membership set.
type memRoles struct {
	members map[uuid.UUID]uuid.UUID // userID -> roleID
}

func (m memRoles) HasRole(_ context.Context, _ uuid.UUID, userID, roleID uuid.UUID) (bool, error) {
	return m.members[userID] == roleID, nil
}

func newSubmission(t *testing.T, mode Mode, levels []Record) (*memProcessorRepo, *Processor) {
	t.Helper()
	repo := &memProcessorRepo{
		tenantID: uuid.New(),
		transfer: TransferState{ID: uuid.New(), Status: transferStatusRequested, RequiresApproval: true, Version: 1},
	}
	for i := range levels {
		levels[i].ID = uuid.New()
		levels[i].TransferID = repo.transfer.ID
		levels[i].Mode = mode
		if levels[i].Status == "" {
			levels[i].Status = RecordPending
		}
	}
	repo.records = levels
	return repo, NewProcessor(repo, memRoles{members: map[uuid.UUID]uuid.UUID{}}, nil)
}

func TestSubmitSequentialOutOfOrder(t *testing.T) {
	approver := uuid.New()
	repo, proc := newSubmission(t, ModeSequential, []Record{
		{Level: 1, RequiredUserID: ptrUUID(uuid.New())},
		{Level: 2, RequiredUserID: &approver},
	})

	_, err := proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 2, approver, "")
	require.ErrorIs(t, err, ErrPreviousLevelsIncomplete)
	require.False(t, repo.promoted)
}

func TestSubmitSequentialInOrderPromotes(t *testing.T) {
	first := uuid.New()
	second := uuid.New()
	repo, proc := newSubmission(t, ModeSequential, []Record{
		{Level: 1, RequiredUserID: &first},
		{Level: 2, RequiredUserID: &second},
	})

	res, err := proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 1, first, "looks fine")
	require.NoError(t, err)
	require.False(t, res.AllCleared)
	require.Equal(t, transferStatusRequested, repo.transfer.Status)

	res, err = proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 2, second, "")
	require.NoError(t, err)
	require.True(t, res.AllCleared)
	require.True(t, repo.promoted)
	require.Equal(t, "APPROVED", repo.transfer.Status)
}

func TestSubmitParallelAnyOrder(t *testing.T) {
	first := uuid.New()
	second := uuid.New()
	repo, proc := newSubmission(t, ModeParallel, []Record{
		{Level: 1, RequiredUserID: &first},
		{Level: 2, RequiredUserID: &second},
	})

	_, err := proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 2, second, "")
	require.NoError(t, err)

	res, err := proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 1, first, "")
	require.NoError(t, err)
	require.True(t, res.AllCleared)
}

func TestSubmitHybridGroupOrdering(t *testing.T) {
	l1 := uuid.New()
	l2 := uuid.New()
	l3 := uuid.New()
	repo, proc := newSubmission(t, ModeHybrid, []Record{
		{Level: 1, RequiredUserID: &l1, Group: "finance"},
		{Level: 2, RequiredUserID: &l2, Group: "finance"},
		{Level: 3, RequiredUserID: &l3, Group: "ops"},
	})

	// Level 2 waits on level 1 within the finance group.
	_, err := proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 2, l2, "")
	require.ErrorIs(t, err, ErrPreviousLevelsIncomplete)

	// The ops group is independent of finance.
	_, err = proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 3, l3, "")
	require.NoError(t, err)

	_, err = proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 1, l1, "")
	require.NoError(t, err)

	res, err := proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 2, l2, "")
	require.NoError(t, err)
	require.True(t, res.AllCleared)
}

func TestSubmitWrongUser(t *testing.T) {
	required := uuid.New()
	repo, proc := newSubmission(t, ModeSequential, []Record{
		{Level: 1, RequiredUserID: &required},
	})

	_, err := proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 1, uuid.New(), "")
	require.ErrorIs(t, err, ErrNotRequiredApprover)
}

func TestSubmitRoleMembership(t *testing.T) {
	roleID := uuid.New()
	member := uuid.New()
	outsider := uuid.New()

	repo := &memProcessorRepo{
		tenantID: uuid.New(),
		transfer: TransferState{ID: uuid.New(), Status: transferStatusRequested, RequiresApproval: true, Version: 1},
	}
	repo.records = []Record{{
		ID:             uuid.New(),
		TransferID:     repo.transfer.ID,
		Level:          1,
		Mode:           ModeSequential,
		RequiredRoleID: &roleID,
		Status:         RecordPending,
	}}
	proc := NewProcessor(repo, memRoles{members: map[uuid.UUID]uuid.UUID{member: roleID}}, nil)

	_, err := proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 1, outsider, "")
	require.ErrorIs(t, err, ErrNotRequiredApprover)

	res, err := proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 1, member, "")
	require.NoError(t, err)
	require.True(t, res.AllCleared)
}

func TestSubmitAlreadyDecided(t *testing.T) {
	approver := uuid.New()
	repo, proc := newSubmission(t, ModeSequential, []Record{
		{Level: 1, RequiredUserID: &approver},
	})

	_, err := proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 1, approver, "")
	require.NoError(t, err)

	repo.transfer.Status = transferStatusRequested // undo promotion to isolate the record check
	_, err = proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 1, approver, "")
	require.ErrorIs(t, err, ErrRecordNotPending)
}

func TestSubmitTransferNotPending(t *testing.T) {
	approver := uuid.New()
	repo, proc := newSubmission(t, ModeSequential, []Record{
		{Level: 1, RequiredUserID: &approver},
	})
	repo.transfer.Status = "IN_TRANSIT"

	_, err := proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 1, approver, "")
	require.ErrorIs(t, err, ErrTransferNotPending)
}

func TestSubmitNotRequired(t *testing.T) {
	approver := uuid.New()
	repo, proc := newSubmission(t, ModeSequential, []Record{
		{Level: 1, RequiredUserID: &approver},
	})
	repo.transfer.RequiresApproval = false

	_, err := proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 1, approver, "")
	require.ErrorIs(t, err, ErrNotRequired)
}

func TestSubmitUnknownLevel(t *testing.T) {
	approver := uuid.New()
	repo, proc := newSubmission(t, ModeSequential, []Record{
		{Level: 1, RequiredUserID: &approver},
	})

	_, err := proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 4, approver, "")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRejectCancelsTransfer(t *testing.T) {
	first := uuid.New()
	second := uuid.New()
	repo, proc := newSubmission(t, ModeSequential, []Record{
		{Level: 1, RequiredUserID: &first},
		{Level: 2, RequiredUserID: &second},
	})

	record, err := proc.Reject(context.Background(), repo.tenantID, repo.transfer.ID, 1, first, "wrong branch")
	require.NoError(t, err)
	require.Equal(t, RecordRejected, record.Status)
	require.Equal(t, "wrong branch", record.Notes)
	require.Equal(t, transferStatusCancelled, repo.transfer.Status)

	// A cancelled transfer refuses further decisions.
	_, err = proc.Submit(context.Background(), repo.tenantID, repo.transfer.ID, 2, second, "")
	require.ErrorIs(t, err, ErrTransferNotPending)
}
