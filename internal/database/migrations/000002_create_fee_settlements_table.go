package migrations

import (
	"time"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateFeeSettlementsTable creates the settlement history and reconciliation table
func CreateFeeSettlementsTable() *gormigrate.Migration {
	type FeeSettlement struct {
		ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
		IntentID        string    `gorm:"type:varchar(26);uniqueIndex;not null"`
		PayerID         string    `gorm:"type:varchar(100);index;not null"`
		Provider        string    `gorm:"type:varchar(32);not null"`
		SettlementID    string    `gorm:"type:varchar(100);not null"`
		Amount          float64   `gorm:"type:decimal(20,2);not null"`
		Currency        string    `gorm:"type:varchar(3);not null"`
		ContactPhone    string    `gorm:"type:varchar(32)"`
		MessagingID     string    `gorm:"type:varchar(64)"`
		Email           string    `gorm:"type:varchar(255)"`
		LedgerReference string    `gorm:"type:varchar(100);index"`
		ReceiptURL      string    `gorm:"type:varchar(255)"`
		Degraded        bool      `gorm:"default:false"`
		Status          string    `gorm:"type:varchar(20);index;not null"`
		LastError       string    `gorm:"type:text"`
		Attempts        int       `gorm:"default:0"`
		VerifiedAt      time.Time
		RecordedAt      *time.Time
		CreatedAt       time.Time
		UpdatedAt       time.Time
	}

	return &gormigrate.Migration{
		ID: "000002_create_fee_settlements_table",
		Migrate: func(tx *gorm.DB) error {
			return tx.Table("fee_settlements").AutoMigrate(&FeeSettlement{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable("fee_settlements")
		},
	}
}
