package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/tradewind-erp/tradewind/internal/jobs"
)

// LedgerIntegrityJob sweeps the stock ledger for arithmetic drift: the
// remaining quantity across a product/branch's open lots must equal the
// signed sum of its ledger entries. The core keeps both in one transaction,
// so any anomaly here points at out-of-band writes.
type LedgerIntegrityJob struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewLedgerIntegrityJob constructs the integrity job.
func NewLedgerIntegrityJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{pool: pool, logger: logger, metrics: metrics}
}

// Handle processes one integrity sweep.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track(TaskLedgerIntegrity)
	limit := payload.MaxAnomalies
	if limit <= 0 {
		limit = DefaultMaxAnomalies
	}

	rows, err := j.pool.Query(ctx, `
		SELECT e.tenant_id, e.product_id, e.branch_id,
		       COALESCE(SUM(e.qty), 0) AS entry_sum,
		       COALESCE(l.remaining, 0) AS lot_remaining
		FROM stock_ledger_entries e
		LEFT JOIN (
			SELECT tenant_id, product_id, branch_id, SUM(qty_remaining) AS remaining
			FROM stock_lots
			GROUP BY tenant_id, product_id, branch_id
		) l ON l.tenant_id = e.tenant_id AND l.product_id = e.product_id AND l.branch_id = e.branch_id
		GROUP BY e.tenant_id, e.product_id, e.branch_id, l.remaining
		HAVING COALESCE(SUM(e.qty), 0) <> COALESCE(l.remaining, 0)
		LIMIT $1`,
		limit,
	)
	if err != nil {
		j.logger.Error("ledger integrity query", slog.Any("error", err))
		return tracker.End(err)
	}
	defer rows.Close()

	anomalies := 0
	for rows.Next() {
		var tenantID, productID, branchID string
		var entrySum, lotRemaining int64
		if err := rows.Scan(&tenantID, &productID, &branchID, &entrySum, &lotRemaining); err != nil {
			return tracker.End(err)
		}
		anomalies++
		j.metrics.AddDrift(tenantID, 1)
		j.logger.Error("ledger drift detected",
			slog.String("tenant_id", tenantID),
			slog.String("product_id", productID),
			slog.String("branch_id", branchID),
			slog.Int64("entry_sum", entrySum),
			slog.Int64("lot_remaining", lotRemaining))
	}
	if err := rows.Err(); err != nil {
		return tracker.End(err)
	}
	if anomalies == 0 {
		j.logger.Info("ledger integrity clean")
	} else {
		j.logger.Warn("ledger integrity sweep finished", slog.Int("anomalies", anomalies))
	}
	return tracker.End(nil)
}
