package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eduvault/backend/internal/capability"
	"github.com/eduvault/backend/internal/metrics"
	"github.com/eduvault/backend/internal/models"
	"github.com/eduvault/backend/internal/services/crypto"
	"go.uber.org/zap"
)

var (
	// ErrLedgerWriteFailed is returned once every attempt to write an entry failed
	ErrLedgerWriteFailed = errors.New("ledger write failed")
	// ErrInvalidEntry is returned for entries that can never be written
	ErrInvalidEntry = errors.New("invalid ledger entry")
)

// Client submits an entry to the distributed ledger and returns its reference.
// Submit may fail transiently.
type Client interface {
	Submit(ctx context.Context, entry models.LedgerEntry) (string, error)
}

// Confirmer is implemented by clients that can tell whether a reference they
// returned earlier is still committed. A reverted write is not.
type Confirmer interface {
	Committed(ctx context.Context, reference string) (bool, error)
}

// MirrorStore keeps a local append-only copy of written entries
type MirrorStore interface {
	Append(ctx context.Context, record *models.LedgerRecord) error
	ListBySubject(ctx context.Context, subjectID string) ([]models.LedgerRecord, error)
}

// Sleeper pauses between attempts. It returns early with ctx's error.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the production Sleeper
func ContextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryConfig defines how ledger writes are retried
type RetryConfig struct {
	MaxAttempts     int           // Total attempts including the first
	InitialInterval time.Duration // Delay after the first failure
	Multiplier      float64       // Growth factor between delays, above 1
}

// DefaultRetryConfig is three attempts with 1s then 2s delays
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		Multiplier:      2.0,
	}
}

// Recorder writes settlement facts to the ledger
type Recorder struct {
	client  capability.Capability[Client]
	mirror  MirrorStore
	retry   RetryConfig
	sleep   Sleeper
	now     func() time.Time
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewRecorder creates a recorder. An unconfigured client puts the recorder in
// degraded mode; mirror may be nil.
func NewRecorder(client capability.Capability[Client], mirror MirrorStore, retry RetryConfig, log *zap.Logger, m *metrics.Metrics) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if retry.Multiplier <= 1 {
		retry.Multiplier = DefaultRetryConfig().Multiplier
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = DefaultRetryConfig().InitialInterval
	}
	return &Recorder{
		client:  client,
		mirror:  mirror,
		retry:   retry,
		sleep:   ContextSleep,
		now:     time.Now,
		log:     log,
		metrics: m,
	}
}

// WithSleeper replaces the sleeper, mainly for tests
func (r *Recorder) WithSleeper(s Sleeper) *Recorder {
	r.sleep = s
	return r
}

// Degraded reports whether the recorder issues placeholder references
func (r *Recorder) Degraded() bool {
	return !r.client.IsConfigured()
}

// Record writes one entry and returns its ledger reference
func (r *Recorder) Record(ctx context.Context, subjectID, actionKey string, amount float64, unit models.LedgerUnit) (string, error) {
	entry, err := r.Write(ctx, models.LedgerEntry{
		SubjectID: subjectID,
		ActionKey: actionKey,
		Amount:    amount,
		Unit:      unit,
	})
	if err != nil {
		return "", err
	}
	return entry.LedgerReference, nil
}

// Write is Record returning the full committed entry
func (r *Recorder) Write(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	if entry.SubjectID == "" || entry.ActionKey == "" {
		return entry, fmt.Errorf("%w: subject and action key are required", ErrInvalidEntry)
	}
	if err := entry.Unit.Validate(); err != nil {
		return entry, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}

	log := r.log.With(
		zap.String("subject_id", entry.SubjectID),
		zap.String("action_key", entry.ActionKey),
		zap.Stringer("unit", entry.Unit),
	)

	client, ok := r.client.Get()
	if !ok {
		entry.LedgerReference = crypto.PlaceholderReference(entry.ActionKey, r.now())
		entry.Degraded = true
		r.metrics.LedgerDegraded()
		log.Warn("ledger not configured, issued placeholder reference",
			zap.String("ledger_mode", "degraded"),
			zap.String("ledger_reference", entry.LedgerReference),
		)
		r.appendMirror(ctx, entry, log)
		return entry, nil
	}

	if existing, ok := r.existingEntry(ctx, client, entry, log); ok {
		return existing, nil
	}

	var lastErr error
	for attempt := 1; attempt <= r.retry.MaxAttempts; attempt++ {
		ref, err := client.Submit(ctx, entry)
		r.metrics.LedgerAttempt(err == nil)
		if err == nil {
			entry.LedgerReference = ref
			log.Info("ledger entry recorded",
				zap.String("ledger_reference", ref),
				zap.Int("attempt", attempt),
			)
			r.appendMirror(ctx, entry, log)
			return entry, nil
		}
		lastErr = err

		if attempt == r.retry.MaxAttempts {
			break
		}
		delay := r.backoff(attempt)
		log.Warn("ledger write failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.retry.MaxAttempts),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return entry, fmt.Errorf("%w: interrupted after %d attempts: %w", ErrLedgerWriteFailed, attempt, err)
		}
	}

	return entry, fmt.Errorf("%w after %d attempts: %w", ErrLedgerWriteFailed, r.retry.MaxAttempts, lastErr)
}

// backoff returns InitialInterval * Multiplier^(attempt-1). Every delay is
// strictly longer than the one before it, even when rounding to whole
// nanoseconds would swallow the growth.
func (r *Recorder) backoff(attempt int) time.Duration {
	interval := r.retry.InitialInterval
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(interval) * r.retry.Multiplier)
		if next <= interval {
			next = interval + 1
		}
		interval = next
	}
	return interval
}

// existingEntry finds an earlier committed write of the same action for the
// subject, left by a run that stopped before its caller stored the reference.
func (r *Recorder) existingEntry(ctx context.Context, client Client, entry models.LedgerEntry, log *zap.Logger) (models.LedgerEntry, bool) {
	if r.mirror == nil {
		return entry, false
	}
	records, err := r.mirror.ListBySubject(ctx, entry.SubjectID)
	if err != nil {
		log.Warn("ledger mirror unavailable, writing without duplicate check", zap.Error(err))
		return entry, false
	}

	for i := len(records) - 1; i >= 0; i-- {
		record := records[i]
		if record.ActionKey != entry.ActionKey || record.Degraded {
			continue
		}
		if confirmer, ok := client.(Confirmer); ok {
			committed, err := confirmer.Committed(ctx, record.LedgerReference)
			if err != nil {
				log.Warn("earlier ledger write could not be confirmed, writing again",
					zap.String("ledger_reference", record.LedgerReference),
					zap.Error(err),
				)
				return entry, false
			}
			if !committed {
				log.Warn("earlier ledger write reverted", zap.String("ledger_reference", record.LedgerReference))
				continue
			}
		}
		entry.LedgerReference = record.LedgerReference
		log.Info("ledger entry already written, reusing reference", zap.String("ledger_reference", record.LedgerReference))
		return entry, true
	}
	return entry, false
}

// appendMirror copies the entry locally. The ledger is authoritative, so a
// mirror failure is only logged.
func (r *Recorder) appendMirror(ctx context.Context, entry models.LedgerEntry, log *zap.Logger) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.Append(ctx, models.NewLedgerRecord(entry)); err != nil {
		log.Error("failed to mirror ledger entry", zap.String("ledger_reference", entry.LedgerReference), zap.Error(err))
	}
}
