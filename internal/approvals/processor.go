package approvals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tradewind-erp/tradewind/internal/shared"
)

// Transfer statuses the processor touches. The transfer state machine owns
// the full enum; only these two matter for approval gating.
const (
	transferStatusRequested = "REQUESTED"
	transferStatusCancelled = "CANCELLED"
)

// TransferState is the slice of transfer state the processor reads.
type TransferState struct {
	ID               uuid.UUID
	Status           string
	RequiresApproval bool
	Version          int
}

// ProcessorTx exposes the writes one approval submission performs. All of
// them run in a single transaction: the decided record and the promoted
// transfer commit together or not at all.
type ProcessorTx interface {
	GetTransferForUpdate(ctx context.Context, tenantID, transferID uuid.UUID) (TransferState, error)
	RecordsForUpdate(ctx context.Context, transferID uuid.UUID) ([]Record, error)
	DecideRecord(ctx context.Context, recordID uuid.UUID, status RecordStatus, approverID uuid.UUID, notes string, decidedAt time.Time) error
	PromoteTransfer(ctx context.Context, tenantID, transferID uuid.UUID, version int) error
	CancelTransfer(ctx context.Context, tenantID, transferID uuid.UUID, version int) error
}

// ProcessorRepository opens submission transactions.
type ProcessorRepository interface {
	WithTx(ctx context.Context, fn func(context.Context, ProcessorTx) error) error
}

// RoleChecker answers "does user X hold role Y in tenant Z".
type RoleChecker interface {
	HasRole(ctx context.Context, tenantID, userID, roleID uuid.UUID) (bool, error)
}

// AuditPort abstracts the audit sink.
type AuditPort interface {
	TryRecord(ctx context.Context, log shared.AuditLog)
}

// Processor records individual level approvals, enforces ordering and
// authorization, and promotes the transfer once all levels clear.
type Processor struct {
	repo  ProcessorRepository
	roles RoleChecker
	audit AuditPort
}

// NewProcessor builds a Processor.
func NewProcessor(repo ProcessorRepository, roles RoleChecker, audit AuditPort) *Processor {
	return &Processor{repo: repo, roles: roles, audit: audit}
}

// SubmitResult reports what the submission did.
type SubmitResult struct {
	Record     Record
	AllCleared bool
}

// Submit records an approval for one level of a transfer. Preconditions are
// checked in order, each a distinct failure; on the last clearing level the
// transfer is promoted to APPROVED with every item's approved quantity set
// to its requested quantity.
func (p *Processor) Submit(ctx context.Context, tenantID uuid.UUID, transferID uuid.UUID, level int, approverID uuid.UUID, notes string) (SubmitResult, error) {
	var result SubmitResult
	err := p.repo.WithTx(ctx, func(ctx context.Context, tx ProcessorTx) error {
		record, records, transfer, err := p.loadForDecision(ctx, tx, tenantID, transferID, level)
		if err != nil {
			return err
		}
		if err := checkOrdering(record, records); err != nil {
			return err
		}
		if err := p.checkApprover(ctx, tenantID, approverID, record); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.DecideRecord(ctx, record.ID, RecordApproved, approverID, notes, now); err != nil {
			return err
		}
		record.Status = RecordApproved
		record.ApproverID = &approverID
		record.Notes = notes
		record.DecidedAt = &now

		allCleared := true
		for _, other := range records {
			if other.ID == record.ID {
				continue
			}
			if other.Status != RecordApproved {
				allCleared = false
				break
			}
		}
		if allCleared {
			if err := tx.PromoteTransfer(ctx, tenantID, transferID, transfer.Version); err != nil {
				return err
			}
		}
		result = SubmitResult{Record: record, AllCleared: allCleared}
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}

	if p.audit != nil {
		p.audit.TryRecord(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  approverID,
			Action:   "approval.submit",
			Entity:   "stock_transfer",
			EntityID: transferID.String(),
			After:    map[string]any{"level": level, "all_cleared": result.AllCleared},
		})
	}
	return result, nil
}

// Reject marks one level REJECTED and cancels the transfer: a rejected
// transfer can never clear all levels, so it leaves the approval pipeline.
func (p *Processor) Reject(ctx context.Context, tenantID uuid.UUID, transferID uuid.UUID, level int, approverID uuid.UUID, notes string) (Record, error) {
	var rejected Record
	err := p.repo.WithTx(ctx, func(ctx context.Context, tx ProcessorTx) error {
		record, records, transfer, err := p.loadForDecision(ctx, tx, tenantID, transferID, level)
		if err != nil {
			return err
		}
		if err := checkOrdering(record, records); err != nil {
			return err
		}
		if err := p.checkApprover(ctx, tenantID, approverID, record); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.DecideRecord(ctx, record.ID, RecordRejected, approverID, notes, now); err != nil {
			return err
		}
		if err := tx.CancelTransfer(ctx, tenantID, transferID, transfer.Version); err != nil {
			return err
		}
		record.Status = RecordRejected
		record.ApproverID = &approverID
		record.Notes = notes
		record.DecidedAt = &now
		rejected = record
		return nil
	})
	if err != nil {
		return Record{}, err
	}

	if p.audit != nil {
		p.audit.TryRecord(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  approverID,
			Action:   "approval.reject",
			Entity:   "stock_transfer",
			EntityID: transferID.String(),
			After:    map[string]any{"level": level, "notes": notes},
		})
	}
	return rejected, nil
}

func (p *Processor) loadForDecision(ctx context.Context, tx ProcessorTx, tenantID, transferID uuid.UUID, level int) (Record, []Record, TransferState, error) {
	transfer, err := tx.GetTransferForUpdate(ctx, tenantID, transferID)
	if err != nil {
		return Record{}, nil, TransferState{}, err
	}
	if !transfer.RequiresApproval {
		return Record{}, nil, TransferState{}, ErrNotRequired
	}
	if transfer.Status != transferStatusRequested {
		return Record{}, nil, TransferState{}, fmt.Errorf("%w: status %s", ErrTransferNotPending, transfer.Status)
	}

	records, err := tx.RecordsForUpdate(ctx, transferID)
	if err != nil {
		return Record{}, nil, TransferState{}, err
	}
	var record *Record
	for i := range records {
		if records[i].Level == level {
			record = &records[i]
			break
		}
	}
	if record == nil {
		return Record{}, nil, TransferState{}, fmt.Errorf("%w: level %d", ErrRecordNotFound, level)
	}
	if record.Status != RecordPending {
		return Record{}, nil, TransferState{}, fmt.Errorf("%w: level %d is %s", ErrRecordNotPending, level, record.Status)
	}
	return *record, records, transfer, nil
}

// checkOrdering enforces the rule's mode. Records carry a snapshot of the
// rule's mode and their level's group tag, so the check needs no rule fetch
// and stays correct even if the rule is edited after materialization.
func checkOrdering(record Record, records []Record) error {
	switch record.Mode {
	case ModeParallel:
		return nil
	case ModeHybrid:
		if record.Group == "" {
			return nil
		}
		for _, other := range records {
			if other.Group == record.Group && other.Level < record.Level && other.Status != RecordApproved {
				return fmt.Errorf("%w: level %d pending", ErrPreviousLevelsIncomplete, other.Level)
			}
		}
		return nil
	default:
		for _, other := range records {
			if other.Level < record.Level && other.Status != RecordApproved {
				return fmt.Errorf("%w: level %d pending", ErrPreviousLevelsIncomplete, other.Level)
			}
		}
		return nil
	}
}

func (p *Processor) checkApprover(ctx context.Context, tenantID, approverID uuid.UUID, record Record) error {
	if record.RequiredUserID != nil {
		if *record.RequiredUserID != approverID {
			return ErrNotRequiredApprover
		}
		return nil
	}
	if record.RequiredRoleID == nil {
		return ErrNotRequiredApprover
	}
	ok, err := p.roles.HasRole(ctx, tenantID, approverID, *record.RequiredRoleID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRequiredApprover
	}
	return nil
}
