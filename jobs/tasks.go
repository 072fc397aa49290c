package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
	// TaskLedgerIntegrity audits ledger/lot arithmetic per tenant.
	TaskLedgerIntegrity = "ledger:integrity"
)

// IdempotencyCleanupPayload bounds the retention window for key pruning.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// DefaultMaxAnomalies caps reported rows per integrity sweep.
const DefaultMaxAnomalies = 100

// LedgerIntegrityPayload configures the integrity sweep.
type LedgerIntegrityPayload struct {
	// MaxAnomalies caps reported rows per run so one corrupted tenant
	// cannot flood the logs.
	MaxAnomalies int `json:"max_anomalies"`
}

// NewLedgerIntegrityTask constructs the integrity task.
func NewLedgerIntegrityTask(maxAnomalies int) (*asynq.Task, error) {
	data, err := json.Marshal(LedgerIntegrityPayload{MaxAnomalies: maxAnomalies})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}
