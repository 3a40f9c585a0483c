// Package settlement runs a fee payment claim through verification, the
// ledger write, receipt generation and payer notification.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/eduvault/backend/internal/capability"
	"github.com/eduvault/backend/internal/database"
	"github.com/eduvault/backend/internal/events"
	"github.com/eduvault/backend/internal/logger"
	"github.com/eduvault/backend/internal/metrics"
	"github.com/eduvault/backend/internal/models"
	"github.com/eduvault/backend/internal/services/payment"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrIntentState is returned when a claim names an intent that is already
// being settled or has been settled.
var ErrIntentState = errors.New("intent is not awaiting settlement")

// IntentStore is the intent correlation table
type IntentStore interface {
	FindByIntentID(ctx context.Context, intentID string) (*models.FeeIntent, error)
	StartVerification(ctx context.Context, claim models.SettlementClaim) error
	Transition(ctx context.Context, intentID string, to models.IntentStatus, from ...models.IntentStatus) error
	ListStale(ctx context.Context, status models.IntentStatus, staleBefore time.Time, limit int) ([]models.FeeIntent, error)
}

// SettlementStore is the transaction store
type SettlementStore interface {
	CreateVerified(ctx context.Context, s *models.FeeSettlement) error
	MarkRecorded(ctx context.Context, id uuid.UUID, ledgerReference, receiptURL string, degraded bool, at time.Time) error
	MarkLedgerFailed(ctx context.Context, id uuid.UUID, lastErr string) error
	ListPendingLedger(ctx context.Context, staleBefore time.Time, limit int) ([]models.FeeSettlement, error)
	ListByPayer(ctx context.Context, payerID string) ([]models.FeeSettlement, error)
	FindByLedgerReference(ctx context.Context, ledgerReference string) (*models.FeeSettlement, error)
}

// Verifier confirms a claim with the gateway
type Verifier interface {
	Verify(ctx context.Context, claim models.SettlementClaim) (*models.VerifiedSettlement, error)
}

// LedgerWriter commits ledger entries
type LedgerWriter interface {
	Write(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error)
}

// Notifier delivers the settlement message to the payer
type Notifier interface {
	Dispatch(ctx context.Context, contact models.Contact, message, attachmentURL string) map[string]bool
}

// ReceiptLinker turns a ledger reference into a receipt URL and a signed
// link to the PDF receipt that messaging providers can fetch
type ReceiptLinker interface {
	Generate(ledgerReference string) string
	SignedDocumentURL(ledgerReference string) string
}

// EventPublisher announces recorded settlements
type EventPublisher interface {
	PublishSettlement(ctx context.Context, event events.SettlementRecorded) error
}

// Config holds the collaborators of a Service
type Config struct {
	Intents     IntentStore
	Settlements SettlementStore
	Verifier    Verifier
	Ledger      LedgerWriter
	Notifier    Notifier
	Receipts    ReceiptLinker
	Events      capability.Capability[EventPublisher]
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Result is the outcome of a successful settlement
type Result struct {
	TransactionHash string                `json:"transactionHash"`
	ReceiptURL      string                `json:"receiptUrl"`
	Degraded        bool                  `json:"degraded"`
	Notifications   map[string]bool       `json:"notifications"`
	Settlement      *models.FeeSettlement `json:"-"`
}

// Service runs the settlement state machine
type Service struct {
	intents     IntentStore
	settlements SettlementStore
	verifier    Verifier
	ledger      LedgerWriter
	notifier    Notifier
	receipts    ReceiptLinker
	events      capability.Capability[EventPublisher]
	log         *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewService creates a new settlement service
func NewService(cfg Config) *Service {
	return &Service{
		intents:     cfg.Intents,
		settlements: cfg.Settlements,
		verifier:    cfg.Verifier,
		ledger:      cfg.Ledger,
		notifier:    cfg.Notifier,
		receipts:    cfg.Receipts,
		events:      cfg.Events,
		log:         logger.OrNop(cfg.Logger),
		metrics:     cfg.Metrics,
		now:         time.Now,
	}
}

// Settle verifies claim and, once the gateway confirms it, records it on the
// ledger and notifies the payer.
//
// Once the payment is verified the rest of the pipeline ignores cancellation
// of ctx: the money has moved and the ledger entry must follow.
func (s *Service) Settle(ctx context.Context, claim models.SettlementClaim) (*Result, error) {
	if claim.IntentID == "" {
		s.metrics.Settlement("rejected")
		return nil, fmt.Errorf("%w: intentId is required", payment.ErrVerificationFailed)
	}

	log := logger.WithContext(ctx, s.log).With(zap.String("intent_id", claim.IntentID))

	intent, err := s.intents.FindByIntentID(ctx, claim.IntentID)
	if err != nil {
		s.metrics.Settlement("rejected")
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown intent %s", payment.ErrVerificationFailed, claim.IntentID)
		}
		return nil, fmt.Errorf("error loading intent: %w", err)
	}

	claim, err = bindClaim(claim, intent)
	if err != nil {
		s.metrics.Settlement("rejected")
		log.Warn("claim does not match intent", zap.Error(err))
		return nil, err
	}

	if err := s.intents.StartVerification(ctx, claim); err != nil {
		s.metrics.Settlement("rejected")
		return nil, intentStateErr(err)
	}

	verified, err := s.verifier.Verify(ctx, claim)
	if err != nil {
		s.metrics.Settlement("verification_failed")
		log.Info("settlement claim not verified", zap.Error(err))
		if rerr := s.intents.Transition(context.WithoutCancel(ctx), intent.IntentID, models.IntentStatusCreated, models.IntentStatusVerifying); rerr != nil {
			log.Error("failed to release intent after verification failure", zap.Error(rerr))
		}
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	log = log.With(zap.String("settlement_id", verified.SettlementID))
	checkAmount(log, intent, claim, verified)

	settlement, err := s.store(ctx, intent, claim, verified, log)
	if err != nil {
		return nil, err
	}

	result, err := s.record(ctx, settlement, log)
	if err != nil {
		s.metrics.Settlement("ledger_failed")
		return nil, err
	}

	if result.Degraded {
		s.metrics.Settlement("degraded")
	} else {
		s.metrics.Settlement("recorded")
	}
	return result, nil
}

// History returns the payer's settlements, newest first
func (s *Service) History(ctx context.Context, payerID string) ([]models.FeeSettlement, error) {
	return s.settlements.ListByPayer(ctx, payerID)
}

// Lookup finds the settlement a ledger reference was issued for
func (s *Service) Lookup(ctx context.Context, ledgerReference string) (*models.FeeSettlement, error) {
	return s.settlements.FindByLedgerReference(ctx, ledgerReference)
}

// record writes the ledger entry for a stored settlement and finishes the
// pipeline. It is shared by Settle and Reconcile.
func (s *Service) record(ctx context.Context, settlement *models.FeeSettlement, log *zap.Logger) (*Result, error) {
	entry, err := s.ledger.Write(ctx, models.LedgerEntry{
		SubjectID: settlement.PayerID,
		ActionKey: settlement.SettlementID,
		Amount:    settlement.Amount,
		Unit:      models.Monetary(settlement.Currency),
	})
	if err != nil {
		log.Error("ledger write failed for a captured payment",
			zap.Bool("money_captured", true),
			zap.String("payer_id", settlement.PayerID),
			zap.Float64("amount", settlement.Amount),
			zap.String("currency", settlement.Currency),
			zap.Error(err),
		)
		if merr := s.settlements.MarkLedgerFailed(ctx, settlement.ID, err.Error()); merr != nil {
			log.Error("failed to flag settlement for reconciliation", zap.Error(merr))
		}
		if terr := s.intents.Transition(ctx, settlement.IntentID, models.IntentStatusLedgerFailed, models.IntentStatusVerified); terr != nil && !errors.Is(terr, database.ErrStaleTransition) {
			log.Error("failed to update intent status", zap.Error(terr))
		}
		return nil, err
	}

	receiptURL := s.receipts.Generate(entry.LedgerReference)
	recordedAt := s.now()
	if err := s.settlements.MarkRecorded(ctx, settlement.ID, entry.LedgerReference, receiptURL, entry.Degraded, recordedAt); err != nil {
		log.Error("ledger reference could not be stored",
			zap.String("ledger_reference", entry.LedgerReference),
			zap.Error(err),
		)
	}
	if err := s.intents.Transition(ctx, settlement.IntentID, models.IntentStatusRecorded, models.IntentStatusVerified, models.IntentStatusLedgerFailed); err != nil {
		log.Warn("failed to mark intent recorded", zap.Error(err))
	}

	settlement.Status = models.SettlementStatusRecorded
	settlement.LedgerReference = entry.LedgerReference
	settlement.ReceiptURL = receiptURL
	settlement.Degraded = entry.Degraded
	settlement.RecordedAt = &recordedAt

	s.publish(ctx, settlement, log)
	notifications := s.notifier.Dispatch(ctx, settlement.Contact(), confirmationMessage(settlement), s.receipts.SignedDocumentURL(entry.LedgerReference))

	log.Info("settlement recorded",
		zap.String("ledger_reference", entry.LedgerReference),
		zap.Bool("degraded", entry.Degraded),
		zap.Any("notifications", notifications),
	)

	return &Result{
		TransactionHash: entry.LedgerReference,
		ReceiptURL:      receiptURL,
		Degraded:        entry.Degraded,
		Notifications:   notifications,
		Settlement:      settlement,
	}, nil
}

func (s *Service) publish(ctx context.Context, settlement *models.FeeSettlement, log *zap.Logger) {
	publisher, ok := s.events.Get()
	if !ok {
		return
	}
	err := publisher.PublishSettlement(ctx, events.SettlementRecorded{
		IntentID:        settlement.IntentID,
		StudentID:       settlement.PayerID,
		Provider:        string(settlement.Provider),
		SettlementID:    settlement.SettlementID,
		Amount:          settlement.Amount,
		Currency:        settlement.Currency,
		LedgerReference: settlement.LedgerReference,
		Degraded:        settlement.Degraded,
		ReceiptURL:      settlement.ReceiptURL,
		RecordedAt:      *settlement.RecordedAt,
	})
	if err != nil {
		log.Warn("failed to publish settlement event", zap.Error(err))
	}
}

// store persists the settlement of a verified claim together with the
// intent's move to verified. When the write fails the intent stays in
// verifying and Reconcile verifies it again once it is stale.
func (s *Service) store(ctx context.Context, intent *models.FeeIntent, claim models.SettlementClaim, verified *models.VerifiedSettlement, log *zap.Logger) (*models.FeeSettlement, error) {
	contact := claim.Contact()
	settlement := &models.FeeSettlement{
		IntentID:     intent.IntentID,
		PayerID:      verified.PayerID,
		Provider:     intent.Provider,
		SettlementID: verified.SettlementID,
		Amount:       verified.Amount,
		Currency:     verified.Currency,
		ContactPhone: contact.Phone,
		MessagingID:  contact.MessagingID,
		Email:        contact.Email,
		Status:       models.SettlementStatusRecording,
		VerifiedAt:   verified.VerifiedAt,
	}
	if err := s.settlements.CreateVerified(ctx, settlement); err != nil {
		if errors.Is(err, database.ErrStaleTransition) {
			return nil, intentStateErr(err)
		}
		log.Error("verified payment could not be stored, left for reconciliation",
			zap.Bool("money_captured", true),
			zap.Float64("amount", verified.Amount),
			zap.String("currency", verified.Currency),
			zap.Error(err),
		)
		return nil, fmt.Errorf("error storing settlement: %w", err)
	}
	return settlement, nil
}

func intentStateErr(err error) error {
	if errors.Is(err, database.ErrStaleTransition) {
		return fmt.Errorf("%w: %w", ErrIntentState, err)
	}
	return err
}

// bindClaim fills identifiers the client left out from the intent record and
// rejects a claim that contradicts it.
func bindClaim(claim models.SettlementClaim, intent *models.FeeIntent) (models.SettlementClaim, error) {
	mismatch := func(field string) error {
		return fmt.Errorf("%w: %s does not match intent %s", payment.ErrVerificationFailed, field, intent.IntentID)
	}

	if claim.Provider == "" {
		claim.Provider = intent.Provider
	} else if claim.Provider != intent.Provider {
		return claim, mismatch("provider")
	}

	if claim.PayerID == "" {
		claim.PayerID = intent.PayerID
	} else if claim.PayerID != intent.PayerID {
		return claim, mismatch("studentId")
	}

	switch intent.Provider {
	case models.ProviderDomestic:
		if claim.OrderID == "" {
			claim.OrderID = intent.OrderReference
		} else if claim.OrderID != intent.OrderReference {
			return claim, mismatch("orderId")
		}
	case models.ProviderInternational:
		if claim.PaymentIntentID == "" {
			claim.PaymentIntentID = intent.OrderReference
		} else if claim.PaymentIntentID != intent.OrderReference {
			return claim, mismatch("paymentIntentId")
		}
	}

	if claim.ContactPhone == "" {
		claim.ContactPhone = intent.ContactPhone
	}
	return claim, nil
}

// checkAmount logs when the gateway's amount differs from what was requested
// or claimed. The gateway's figure is what gets recorded.
func checkAmount(log *zap.Logger, intent *models.FeeIntent, claim models.SettlementClaim, verified *models.VerifiedSettlement) {
	if verified.Currency != intent.Currency || math.Abs(verified.Amount-intent.Amount) > 0.005 {
		log.Warn("settled amount differs from intent",
			zap.Float64("intent_amount", intent.Amount),
			zap.String("intent_currency", intent.Currency),
			zap.Float64("settled_amount", verified.Amount),
			zap.String("settled_currency", verified.Currency),
		)
	}
	if claim.Amount != nil && math.Abs(*claim.Amount-verified.Amount) > 0.005 {
		log.Warn("claimed amount differs from gateway report",
			zap.Float64("claimed_amount", *claim.Amount),
			zap.Float64("settled_amount", verified.Amount),
		)
	}
}

func confirmationMessage(s *models.FeeSettlement) string {
	return fmt.Sprintf(
		"Fee payment received: %s %.2f for student %s.\nLedger reference: %s\nReceipt: %s",
		s.Currency, s.Amount, s.PayerID, s.LedgerReference, s.ReceiptURL,
	)
}
