package database

import (
	"context"
	"fmt"
	"time"

	"github.com/eduvault/backend/internal/models"
	"gorm.io/gorm"
)

// IntentRepository stores fee intent correlation records
type IntentRepository struct {
	db *gorm.DB
}

// NewIntentRepository creates a new intent repository
func NewIntentRepository(db *gorm.DB) *IntentRepository {
	return &IntentRepository{db: db}
}

// Create inserts a new intent
func (r *IntentRepository) Create(ctx context.Context, intent *models.FeeIntent) error {
	if err := r.db.WithContext(ctx).Create(intent).Error; err != nil {
		return fmt.Errorf("error creating intent: %w", err)
	}
	return nil
}

// FindByIntentID loads an intent by its correlation id
func (r *IntentRepository) FindByIntentID(ctx context.Context, intentID string) (*models.FeeIntent, error) {
	var intent models.FeeIntent
	if err := r.db.WithContext(ctx).Where("intent_id = ?", intentID).First(&intent).Error; err != nil {
		return nil, notFound(err)
	}
	return &intent, nil
}

// Transition moves an intent to status `to` only if it is currently in one of
// `from`. The check and the write are a single conditional UPDATE, so two
// concurrent claims on one intent cannot both pass.
func (r *IntentRepository) Transition(ctx context.Context, intentID string, to models.IntentStatus, from ...models.IntentStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.FeeIntent{}).
		Where("intent_id = ? AND status IN ?", intentID, from).
		Update("status", to)
	if result.Error != nil {
		return fmt.Errorf("error updating intent status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: intent %s cannot move to %s", ErrStaleTransition, intentID, to)
	}
	return nil
}

// StartVerification moves a created intent to verifying and stores the
// claim details needed to re-verify it later.
func (r *IntentRepository) StartVerification(ctx context.Context, claim models.SettlementClaim) error {
	result := r.db.WithContext(ctx).
		Model(&models.FeeIntent{}).
		Where("intent_id = ? AND status = ?", claim.IntentID, models.IntentStatusCreated).
		Updates(map[string]any{
			"status":       models.IntentStatusVerifying,
			"payment_id":   claim.PaymentID,
			"messaging_id": claim.MessagingID,
			"email":        claim.Email,
		})
	if result.Error != nil {
		return fmt.Errorf("error starting verification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: intent %s is not awaiting a claim", ErrStaleTransition, claim.IntentID)
	}
	return nil
}

// ListStale returns intents that have been in status since before
// staleBefore, oldest first
func (r *IntentRepository) ListStale(ctx context.Context, status models.IntentStatus, staleBefore time.Time, limit int) ([]models.FeeIntent, error) {
	var intents []models.FeeIntent
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, staleBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&intents).Error
	if err != nil {
		return nil, fmt.Errorf("error listing stale intents: %w", err)
	}
	return intents, nil
}
