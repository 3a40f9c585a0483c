package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eduvault/backend/internal/models"
	"github.com/eduvault/backend/internal/services/payment"
	"go.uber.org/zap"
)

const (
	// DefaultStaleAfter is how long an intent may sit in verifying, or a
	// settlement in recording, before reconciliation assumes its request died.
	DefaultStaleAfter = 5 * time.Minute
	reconcileBatch    = 50
)

// ReconcileReport summarises one reconciliation run
type ReconcileReport struct {
	Attempted int
	Recorded  int
	Failed    int
	// Released counts stuck claims the gateway no longer confirms; their
	// intents are open for a new claim.
	Released int
}

// Reconcile finishes settlements whose request died or whose ledger write
// failed. Claims stuck in verifying are verified again and stored; stored
// settlements without a ledger entry get the write retried.
func (s *Service) Reconcile(ctx context.Context, staleAfter time.Duration) (ReconcileReport, error) {
	var report ReconcileReport
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	staleBefore := s.now().Add(-staleAfter)

	pending, err := s.settlements.ListPendingLedger(ctx, staleBefore, reconcileBatch)
	if err != nil {
		return report, fmt.Errorf("error loading pending settlements: %w", err)
	}

	for i := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		settlement := &pending[i]
		log := s.log.With(
			zap.String("intent_id", settlement.IntentID),
			zap.String("settlement_id", settlement.SettlementID),
			zap.Int("previous_attempts", settlement.Attempts),
		)

		report.Attempted++
		if _, err := s.record(ctx, settlement, log); err != nil {
			report.Failed++
			s.metrics.Reconciliation("failed")
			continue
		}
		report.Recorded++
		s.metrics.Reconciliation("recorded")
	}

	// after the pending pass, so a claim stored here is not retried twice in one run
	if err := s.reverifyStale(ctx, staleBefore, &report); err != nil {
		return report, err
	}

	if report.Attempted > 0 || report.Released > 0 {
		s.log.Info("settlement reconciliation finished",
			zap.Int("attempted", report.Attempted),
			zap.Int("recorded", report.Recorded),
			zap.Int("failed", report.Failed),
			zap.Int("released", report.Released),
		)
	}
	return report, nil
}

// reverifyStale handles intents whose request died between claim and
// storage. A payment the gateway confirms is stored and recorded. A rejected
// claim releases the intent; a gateway error leaves it for the next run.
func (s *Service) reverifyStale(ctx context.Context, staleBefore time.Time, report *ReconcileReport) error {
	stuck, err := s.intents.ListStale(ctx, models.IntentStatusVerifying, staleBefore, reconcileBatch)
	if err != nil {
		return fmt.Errorf("error loading stale intents: %w", err)
	}

	for i := range stuck {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		intent := &stuck[i]
		claim := intent.Claim()
		log := s.log.With(zap.String("intent_id", intent.IntentID), zap.String("payer_id", intent.PayerID))

		verified, err := s.verifier.Verify(ctx, claim)
		if errors.Is(err, payment.ErrVerificationFailed) {
			if rerr := s.intents.Transition(ctx, intent.IntentID, models.IntentStatusCreated, models.IntentStatusVerifying); rerr != nil {
				log.Warn("failed to release stale intent", zap.Error(rerr))
			}
			log.Info("stale claim not confirmed by gateway, intent released", zap.Error(err))
			report.Released++
			s.metrics.Reconciliation("released")
			continue
		}
		report.Attempted++
		if err != nil {
			log.Warn("gateway unavailable while re-verifying stale claim", zap.Error(err))
			report.Failed++
			s.metrics.Reconciliation("failed")
			continue
		}

		log = log.With(zap.String("settlement_id", verified.SettlementID))
		checkAmount(log, intent, claim, verified)
		settlement, err := s.store(ctx, intent, claim, verified, log)
		if err != nil {
			report.Failed++
			s.metrics.Reconciliation("failed")
			continue
		}
		if _, err := s.record(ctx, settlement, log); err != nil {
			report.Failed++
			s.metrics.Reconciliation("failed")
			continue
		}
		report.Recorded++
		s.metrics.Reconciliation("recorded")
	}
	return nil
}
