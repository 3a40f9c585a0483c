package migrations

import (
	"time"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateLedgerEntriesTable creates the local mirror of ledger writes
func CreateLedgerEntriesTable() *gormigrate.Migration {
	type LedgerRecord struct {
		ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
		SubjectID       string    `gorm:"type:varchar(100);index;not null"`
		ActionKey       string    `gorm:"type:varchar(100);not null"`
		Amount          float64   `gorm:"type:decimal(20,2)"`
		UnitKind        string    `gorm:"type:varchar(16);not null"`
		UnitValue       string    `gorm:"type:varchar(64);not null"`
		LedgerReference string    `gorm:"type:varchar(100);uniqueIndex;not null"`
		Degraded        bool      `gorm:"default:false"`
		CreatedAt       time.Time
	}

	return &gormigrate.Migration{
		ID: "000003_create_ledger_entries_table",
		Migrate: func(tx *gorm.DB) error {
			return tx.Table("ledger_entries").AutoMigrate(&LedgerRecord{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable("ledger_entries")
		},
	}
}
