package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eduvault/backend/internal/capability"
	"github.com/eduvault/backend/internal/database"
	"github.com/eduvault/backend/internal/database/migrations"
	"github.com/eduvault/backend/internal/events"
	"github.com/eduvault/backend/internal/models"
	"github.com/eduvault/backend/internal/services/ledger"
	"github.com/eduvault/backend/internal/services/notification"
	"github.com/eduvault/backend/internal/services/payment"
	"github.com/eduvault/backend/internal/services/receipt"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type stubVerifier struct {
	err    error
	before func()
	calls  int
}

func (v *stubVerifier) Verify(ctx context.Context, claim models.SettlementClaim) (*models.VerifiedSettlement, error) {
	v.calls++
	if v.before != nil {
		v.before()
	}
	if v.err != nil {
		return nil, v.err
	}
	return &models.VerifiedSettlement{
		PayerID:      claim.PayerID,
		SettlementID: claim.PaymentID,
		Amount:       500,
		Currency:     "INR",
		VerifiedAt:   time.Now(),
	}, nil
}

type stubLedgerClient struct {
	mu       sync.Mutex
	failures int
	calls    int
	ctxErrs  []error
}

func (c *stubLedgerClient) Submit(ctx context.Context, entry models.LedgerEntry) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.ctxErrs = append(c.ctxErrs, ctx.Err())
	if c.failures > 0 {
		c.failures--
		return "", errors.New("rpc unavailable")
	}
	return fmt.Sprintf("0x%064d", c.calls), nil
}

type recordingChannel struct {
	mu   sync.Mutex
	sent []string
	docs []string
	err  error
}

func (c *recordingChannel) SendText(ctx context.Context, destination, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, destination+": "+message)
	return c.err
}

func (c *recordingChannel) SendDocument(ctx context.Context, destination, documentURL, filename, caption string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, documentURL)
	return nil
}

type stubPublisher struct {
	published []events.SettlementRecorded
}

func (p *stubPublisher) PublishSettlement(ctx context.Context, event events.SettlementRecorded) error {
	p.published = append(p.published, event)
	return nil
}

// flakySettlements fails the first CreateVerified or MarkRecorded calls the
// way a dropped database connection would
type flakySettlements struct {
	*database.SettlementRepository
	failures     int
	markFailures int
}

func (s *flakySettlements) MarkRecorded(ctx context.Context, id uuid.UUID, ledgerReference, receiptURL string, degraded bool, at time.Time) error {
	if s.markFailures > 0 {
		s.markFailures--
		return errors.New("connection reset by peer")
	}
	return s.SettlementRepository.MarkRecorded(ctx, id, ledgerReference, receiptURL, degraded, at)
}

func (s *flakySettlements) CreateVerified(ctx context.Context, settlement *models.FeeSettlement) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset by peer")
	}
	return s.SettlementRepository.CreateVerified(ctx, settlement)
}

type fixture struct {
	svc         *Service
	intents     *database.IntentRepository
	settlements *database.SettlementRepository
	verifier    *stubVerifier
	client      *stubLedgerClient
	sms         *recordingChannel
	publisher   *stubPublisher
}

func newFixture(t *testing.T, ledgerConfigured bool) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, migrations.RunMigrations(db, zap.NewNop()))

	f := &fixture{
		intents:     database.NewIntentRepository(db),
		settlements: database.NewSettlementRepository(db),
		verifier:    &stubVerifier{},
		client:      &stubLedgerClient{},
		sms:         &recordingChannel{},
		publisher:   &stubPublisher{},
	}

	clientCap := capability.Unconfigured[ledger.Client]()
	if ledgerConfigured {
		clientCap = capability.Configured[ledger.Client](f.client)
	}
	recorder := ledger.NewRecorder(clientCap, database.NewLedgerRepository(db), ledger.DefaultRetryConfig(), nil, nil).
		WithSleeper(func(ctx context.Context, d time.Duration) error { return nil })

	dispatcher := notification.NewDispatcher(nil, nil,
		notification.SMS(capability.Configured[notification.Channel](f.sms)),
		notification.Telegram(capability.Unconfigured[notification.Channel]()),
	)

	f.svc = NewService(Config{
		Intents:     f.intents,
		Settlements: f.settlements,
		Verifier:    f.verifier,
		Ledger:      recorder,
		Notifier:    dispatcher,
		Receipts:    receipt.NewGenerator("https://fees.example.edu/fees", "https://explorer.example/tx").WithSigningKey("receipt-key"),
		Events:      capability.Configured[EventPublisher](f.publisher),
	})
	return f
}

func (f *fixture) seedIntent(t *testing.T, intentID string) {
	t.Helper()
	require.NoError(t, f.intents.Create(context.Background(), &models.FeeIntent{
		IntentID:       intentID,
		PayerID:        "STU-1",
		ContactPhone:   "+919800000000",
		Provider:       models.ProviderDomestic,
		OrderReference: "order_" + intentID,
		Amount:         500,
		Currency:       "INR",
		Status:         models.IntentStatusCreated,
	}))
}

func (f *fixture) intentStatus(t *testing.T, intentID string) models.IntentStatus {
	t.Helper()
	intent, err := f.intents.FindByIntentID(context.Background(), intentID)
	require.NoError(t, err)
	return intent.Status
}

func claimFor(intentID string) models.SettlementClaim {
	return models.SettlementClaim{
		IntentID:  intentID,
		Provider:  models.ProviderDomestic,
		PayerID:   "STU-1",
		PaymentID: "pay_" + intentID,
	}
}

func TestSettle_RecordsAndNotifies(t *testing.T) {
	f := newFixture(t, true)
	f.seedIntent(t, "intent1")

	result, err := f.svc.Settle(context.Background(), claimFor("intent1"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.TransactionHash, "0x"))
	assert.Equal(t, "https://explorer.example/tx/"+result.TransactionHash, result.ReceiptURL)
	assert.False(t, result.Degraded)
	assert.Equal(t, map[string]bool{"sms": true}, result.Notifications, "telegram has no messaging id and is skipped")
	assert.Equal(t, models.IntentStatusRecorded, f.intentStatus(t, "intent1"))

	history, err := f.svc.History(context.Background(), "STU-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.SettlementStatusRecorded, history[0].Status)
	assert.Equal(t, result.TransactionHash, history[0].LedgerReference)
	assert.Equal(t, "pay_intent1", history[0].SettlementID)

	require.Len(t, f.sms.sent, 1)
	assert.Contains(t, f.sms.sent[0], "+919800000000")
	assert.Contains(t, f.sms.sent[0], result.TransactionHash)

	// The explorer page is for people; providers fetch the signed PDF.
	generator := receipt.NewGenerator("https://fees.example.edu/fees", "").WithSigningKey("receipt-key")
	require.Len(t, f.sms.docs, 1)
	assert.Equal(t, generator.SignedDocumentURL(result.TransactionHash), f.sms.docs[0])
	assert.True(t, strings.HasPrefix(f.sms.docs[0], "https://fees.example.edu/fees/receipts/"+result.TransactionHash+"/document?sig="))

	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, "STU-1", f.publisher.published[0].StudentID)

	found, err := f.svc.Lookup(context.Background(), result.TransactionHash)
	require.NoError(t, err)
	assert.Equal(t, "intent1", found.IntentID)
}

func TestSettle_SecondClaimRejected(t *testing.T) {
	f := newFixture(t, true)
	f.seedIntent(t, "intent2")

	_, err := f.svc.Settle(context.Background(), claimFor("intent2"))
	require.NoError(t, err)

	_, err = f.svc.Settle(context.Background(), claimFor("intent2"))
	assert.ErrorIs(t, err, ErrIntentState)
	assert.Equal(t, 1, f.client.calls, "the ledger is written once")
	assert.Equal(t, 1, f.verifier.calls)
}

func TestSettle_ClaimValidation(t *testing.T) {
	f := newFixture(t, true)
	f.seedIntent(t, "intent3")

	t.Run("missing intent id", func(t *testing.T) {
		_, err := f.svc.Settle(context.Background(), models.SettlementClaim{PayerID: "STU-1"})
		assert.ErrorIs(t, err, payment.ErrVerificationFailed)
	})

	t.Run("unknown intent", func(t *testing.T) {
		_, err := f.svc.Settle(context.Background(), claimFor("nope"))
		assert.ErrorIs(t, err, payment.ErrVerificationFailed)
	})

	t.Run("different payer", func(t *testing.T) {
		claim := claimFor("intent3")
		claim.PayerID = "STU-2"
		_, err := f.svc.Settle(context.Background(), claim)
		assert.ErrorIs(t, err, payment.ErrVerificationFailed)
	})

	t.Run("different order", func(t *testing.T) {
		claim := claimFor("intent3")
		claim.OrderID = "order_other"
		_, err := f.svc.Settle(context.Background(), claim)
		assert.ErrorIs(t, err, payment.ErrVerificationFailed)
	})

	assert.Zero(t, f.verifier.calls)
	assert.Equal(t, models.IntentStatusCreated, f.intentStatus(t, "intent3"))
}

func TestSettle_VerificationFailureReleasesIntent(t *testing.T) {
	f := newFixture(t, true)
	f.seedIntent(t, "intent4")
	f.verifier.err = fmt.Errorf("%w: order not paid", payment.ErrVerificationFailed)

	_, err := f.svc.Settle(context.Background(), claimFor("intent4"))
	assert.ErrorIs(t, err, payment.ErrVerificationFailed)
	assert.Equal(t, models.IntentStatusCreated, f.intentStatus(t, "intent4"))
	assert.Zero(t, f.client.calls)
	assert.Empty(t, f.sms.sent)

	f.verifier.err = nil
	_, err = f.svc.Settle(context.Background(), claimFor("intent4"))
	require.NoError(t, err, "a released intent can be claimed again")
}

func TestSettle_LedgerWriteSurvivesCancellation(t *testing.T) {
	f := newFixture(t, true)
	f.seedIntent(t, "intent5")

	ctx, cancel := context.WithCancel(context.Background())
	f.verifier.before = cancel

	result, err := f.svc.Settle(ctx, claimFor("intent5"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.TransactionHash)
	require.Len(t, f.client.ctxErrs, 1)
	assert.NoError(t, f.client.ctxErrs[0])
}

func TestSettle_LedgerFailureThenReconcile(t *testing.T) {
	f := newFixture(t, true)
	f.seedIntent(t, "intent6")
	f.client.failures = 3

	_, err := f.svc.Settle(context.Background(), claimFor("intent6"))
	require.ErrorIs(t, err, ledger.ErrLedgerWriteFailed)
	assert.Equal(t, 3, f.client.calls)
	assert.Equal(t, models.IntentStatusLedgerFailed, f.intentStatus(t, "intent6"))
	assert.Empty(t, f.sms.sent)

	history, err := f.svc.History(context.Background(), "STU-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.SettlementStatusLedgerFailed, history[0].Status)

	report, err := f.svc.Reconcile(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Attempted: 1, Recorded: 1}, report)
	assert.Equal(t, models.IntentStatusRecorded, f.intentStatus(t, "intent6"))
	assert.Len(t, f.sms.sent, 1)

	history, err = f.svc.History(context.Background(), "STU-1")
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusRecorded, history[0].Status)

	report, err = f.svc.Reconcile(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
}

func TestSettle_ReconcileKeepsFailing(t *testing.T) {
	f := newFixture(t, true)
	f.seedIntent(t, "intent7")
	f.client.failures = 6

	_, err := f.svc.Settle(context.Background(), claimFor("intent7"))
	require.ErrorIs(t, err, ledger.ErrLedgerWriteFailed)

	report, err := f.svc.Reconcile(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Attempted: 1, Failed: 1}, report)

	history, err := f.svc.History(context.Background(), "STU-1")
	require.NoError(t, err)
	assert.Equal(t, 2, history[0].Attempts)
	assert.Contains(t, history[0].LastError, "rpc unavailable")
}

func TestSettle_DegradedLedgerAndFailingChannels(t *testing.T) {
	f := newFixture(t, false)
	f.seedIntent(t, "intent8")
	f.sms.err = errors.New("carrier rejected")

	result, err := f.svc.Settle(context.Background(), claimFor("intent8"))
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	assert.True(t, strings.HasPrefix(result.TransactionHash, "mock_"))
	assert.Equal(t, "https://fees.example.edu/fees/receipts/"+result.TransactionHash, result.ReceiptURL)
	assert.Empty(t, f.sms.docs, "no attachment follows a failed text")
	assert.Equal(t, map[string]bool{"sms": false}, result.Notifications)
	assert.Equal(t, models.IntentStatusRecorded, f.intentStatus(t, "intent8"))
}

func TestSettle_StoreFailureRecoveredByReconcile(t *testing.T) {
	f := newFixture(t, true)
	f.seedIntent(t, "intent9")
	f.svc.settlements = &flakySettlements{SettlementRepository: f.settlements, failures: 1}

	claim := claimFor("intent9")
	claim.Email = "payer@example.edu"
	_, err := f.svc.Settle(context.Background(), claim)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIntentState)
	assert.Equal(t, models.IntentStatusVerifying, f.intentStatus(t, "intent9"), "the claim stays parked for reconciliation")
	assert.Zero(t, f.client.calls)

	history, err := f.svc.History(context.Background(), "STU-1")
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = f.svc.Settle(context.Background(), claimFor("intent9"))
	assert.ErrorIs(t, err, ErrIntentState, "a concurrent retry cannot settle the same intent")

	report, err := f.svc.Reconcile(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted, "a fresh claim belongs to an in-flight request")

	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	report, err = f.svc.Reconcile(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Attempted: 1, Recorded: 1}, report)
	assert.Equal(t, 2, f.verifier.calls, "the gateway confirms the payment again")
	assert.Equal(t, models.IntentStatusRecorded, f.intentStatus(t, "intent9"))

	history, err = f.svc.History(context.Background(), "STU-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.SettlementStatusRecorded, history[0].Status)
	assert.Equal(t, "pay_intent9", history[0].SettlementID)
	assert.Equal(t, "payer@example.edu", history[0].Email)
	assert.Equal(t, 1, f.client.calls)
	assert.Len(t, f.sms.sent, 1)

	report, err = f.svc.Reconcile(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{}, report)
}

func TestReconcile_ReusesLedgerWriteWhoseReferenceWasLost(t *testing.T) {
	f := newFixture(t, true)
	f.seedIntent(t, "intent11")
	f.svc.settlements = &flakySettlements{SettlementRepository: f.settlements, markFailures: 1}

	result, err := f.svc.Settle(context.Background(), claimFor("intent11"))
	require.NoError(t, err)
	require.Equal(t, 1, f.client.calls)

	history, err := f.svc.History(context.Background(), "STU-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.SettlementStatusRecording, history[0].Status)

	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	report, err := f.svc.Reconcile(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Attempted: 1, Recorded: 1}, report)
	assert.Equal(t, 1, f.client.calls, "the mirrored write is reused, not submitted twice")

	history, err = f.svc.History(context.Background(), "STU-1")
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusRecorded, history[0].Status)
	assert.Equal(t, result.TransactionHash, history[0].LedgerReference)
}

func TestReconcile_ReleasesUnconfirmedStaleClaim(t *testing.T) {
	f := newFixture(t, true)
	f.seedIntent(t, "intent10")
	require.NoError(t, f.intents.StartVerification(context.Background(), claimFor("intent10")))

	f.verifier.err = fmt.Errorf("%w: order not paid", payment.ErrVerificationFailed)
	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	report, err := f.svc.Reconcile(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Released: 1}, report)
	assert.Equal(t, models.IntentStatusCreated, f.intentStatus(t, "intent10"))
	assert.Zero(t, f.client.calls)
}

func TestReconcile_GatewayDownKeepsStaleClaim(t *testing.T) {
	f := newFixture(t, true)
	f.seedIntent(t, "intent11")
	require.NoError(t, f.intents.StartVerification(context.Background(), claimFor("intent11")))

	f.verifier.err = fmt.Errorf("%w: timeout", payment.ErrGatewayUnavailable)
	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	report, err := f.svc.Reconcile(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Attempted: 1, Failed: 1}, report)
	assert.Equal(t, models.IntentStatusVerifying, f.intentStatus(t, "intent11"))
}
