package migrations

import (
	"time"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateFeeIntentsTable creates the intent correlation table
func CreateFeeIntentsTable() *gormigrate.Migration {
	// snapshot of the table as of this migration
	type FeeIntent struct {
		ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
		IntentID       string    `gorm:"type:varchar(26);uniqueIndex;not null"`
		PayerID        string    `gorm:"type:varchar(100);index;not null"`
		ContactPhone   string    `gorm:"type:varchar(32)"`
		Provider       string    `gorm:"type:varchar(32);not null"`
		OrderReference string    `gorm:"type:varchar(100);index;not null"`
		Amount         float64   `gorm:"type:decimal(20,2);not null"`
		Currency       string    `gorm:"type:varchar(3);not null"`
		Status         string    `gorm:"type:varchar(20);index;not null"`
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	return &gormigrate.Migration{
		ID: "000001_create_fee_intents_table",
		Migrate: func(tx *gorm.DB) error {
			return tx.Table("fee_intents").AutoMigrate(&FeeIntent{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable("fee_intents")
		},
	}
}
