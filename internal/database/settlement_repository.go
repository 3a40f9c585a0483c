package database

import (
	"context"
	"fmt"
	"time"

	"github.com/eduvault/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SettlementRepository is the transaction store for settled fee payments
type SettlementRepository struct {
	db *gorm.DB
}

// NewSettlementRepository creates a new settlement repository
func NewSettlementRepository(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// CreateVerified stores the settlement of a verified claim and moves its
// intent from verifying to verified in one transaction. Either both writes
// land or the intent stays in verifying for reconciliation to pick up.
func (r *SettlementRepository) CreateVerified(ctx context.Context, s *models.FeeSettlement) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.FeeIntent{}).
			Where("intent_id = ? AND status = ?", s.IntentID, models.IntentStatusVerifying).
			Update("status", models.IntentStatusVerified)
		if result.Error != nil {
			return fmt.Errorf("error updating intent status: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: intent %s is not being verified", ErrStaleTransition, s.IntentID)
		}

		if err := tx.Create(s).Error; err != nil {
			return fmt.Errorf("error creating settlement: %w", err)
		}
		return nil
	})
}

// MarkRecorded stores the ledger reference of a settlement
func (r *SettlementRepository) MarkRecorded(ctx context.Context, id uuid.UUID, ledgerReference, receiptURL string, degraded bool, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.FeeSettlement{}).
		Where("id = ? AND status <> ?", id, models.SettlementStatusRecorded).
		Updates(map[string]any{
			"status":           models.SettlementStatusRecorded,
			"ledger_reference": ledgerReference,
			"receipt_url":      receiptURL,
			"degraded":         degraded,
			"recorded_at":      at,
			"last_error":       "",
			"attempts":         gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("error marking settlement recorded: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: settlement %s already recorded", ErrStaleTransition, id)
	}
	return nil
}

// MarkLedgerFailed flags a settlement for reconciliation
func (r *SettlementRepository) MarkLedgerFailed(ctx context.Context, id uuid.UUID, lastErr string) error {
	err := r.db.WithContext(ctx).
		Model(&models.FeeSettlement{}).
		Where("id = ? AND status <> ?", id, models.SettlementStatusRecorded).
		Updates(map[string]any{
			"status":     models.SettlementStatusLedgerFailed,
			"last_error": lastErr,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error
	if err != nil {
		return fmt.Errorf("error marking settlement failed: %w", err)
	}
	return nil
}

// ListPendingLedger returns settlements whose ledger write failed, plus
// settlements stuck in recording since before staleBefore.
func (r *SettlementRepository) ListPendingLedger(ctx context.Context, staleBefore time.Time, limit int) ([]models.FeeSettlement, error) {
	var settlements []models.FeeSettlement
	err := r.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND updated_at < ?)",
			models.SettlementStatusLedgerFailed, models.SettlementStatusRecording, staleBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&settlements).Error
	if err != nil {
		return nil, fmt.Errorf("error listing pending settlements: %w", err)
	}
	return settlements, nil
}

// ListByPayer returns a payer's settlements, newest first
func (r *SettlementRepository) ListByPayer(ctx context.Context, payerID string) ([]models.FeeSettlement, error) {
	var settlements []models.FeeSettlement
	err := r.db.WithContext(ctx).
		Where("payer_id = ?", payerID).
		Order("created_at DESC").
		Find(&settlements).Error
	if err != nil {
		return nil, fmt.Errorf("error listing settlements: %w", err)
	}
	return settlements, nil
}

// FindByLedgerReference loads the settlement a receipt refers to
func (r *SettlementRepository) FindByLedgerReference(ctx context.Context, ledgerReference string) (*models.FeeSettlement, error) {
	var s models.FeeSettlement
	if err := r.db.WithContext(ctx).Where("ledger_reference = ?", ledgerReference).First(&s).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}
