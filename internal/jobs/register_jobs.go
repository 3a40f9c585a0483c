package jobs

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// NewScheduler creates the UTC scheduler that runs recurring jobs
func NewScheduler() *gocron.Scheduler {
	scheduler := gocron.NewScheduler(time.UTC)
	// a slow run must finish before the next one starts
	scheduler.SingletonModeAll()
	return scheduler
}

// ScheduleRecurringJobs schedules all recurring jobs
func ScheduleRecurringJobs(scheduler *gocron.Scheduler, reconcile *LedgerReconcileJob, every time.Duration, log *zap.Logger) error {
	if every <= 0 {
		log.Info("ledger reconciliation disabled")
		return nil
	}

	// Schedule ledger reconciliation
	if _, err := scheduler.Every(every).WaitForSchedule().Do(reconcile.Run); err != nil {
		return fmt.Errorf("failed to schedule ledger reconciliation: %w", err)
	}

	log.Info("recurring jobs scheduled", zap.Duration("ledger_reconcile_every", every))
	return nil
}
