package database

import (
	"context"
	"fmt"

	"github.com/eduvault/backend/internal/models"
	"gorm.io/gorm"
)

// LedgerRepository is the append-only local mirror of ledger writes
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append inserts a mirror row
func (r *LedgerRepository) Append(ctx context.Context, record *models.LedgerRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("error appending ledger record: %w", err)
	}
	return nil
}

// ListBySubject returns every mirrored entry for a subject in write order
func (r *LedgerRepository) ListBySubject(ctx context.Context, subjectID string) ([]models.LedgerRecord, error) {
	var records []models.LedgerRecord
	if err := r.db.WithContext(ctx).Where("subject_id = ?", subjectID).Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("error listing ledger records: %w", err)
	}
	return records, nil
}
