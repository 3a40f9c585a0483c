package jobs

import (
	"context"
	"time"

	"github.com/eduvault/backend/internal/services/settlement"
	"go.uber.org/zap"
)

// Reconciler retries ledger writes for verified payments
type Reconciler interface {
	Reconcile(ctx context.Context, staleAfter time.Duration) (settlement.ReconcileReport, error)
}

// LedgerReconcileJob periodically records settlements whose ledger write failed
type LedgerReconcileJob struct {
	reconciler Reconciler
	staleAfter time.Duration
	timeout    time.Duration
	log        *zap.Logger
}

// NewLedgerReconcileJob creates a new reconciliation job
func NewLedgerReconcileJob(reconciler Reconciler, staleAfter time.Duration, log *zap.Logger) *LedgerReconcileJob {
	if log == nil {
		log = zap.NewNop()
	}
	return &LedgerReconcileJob{
		reconciler: reconciler,
		staleAfter: staleAfter,
		timeout:    10 * time.Minute,
		log:        log.With(zap.String("job", "ledger_reconcile")),
	}
}

// Run performs one reconciliation pass
func (j *LedgerReconcileJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	report, err := j.reconciler.Reconcile(ctx, j.staleAfter)
	if err != nil {
		j.log.Error("ledger reconciliation failed",
			zap.Int("attempted", report.Attempted),
			zap.Error(err),
		)
		return
	}
	if report.Failed > 0 {
		j.log.Warn("settlements still missing a ledger entry", zap.Int("failed", report.Failed))
	}
}
