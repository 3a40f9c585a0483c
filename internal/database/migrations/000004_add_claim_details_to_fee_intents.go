package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// AddClaimDetailsToFeeIntents stores the claim identifiers and contact
// details on the intent when verification starts
func AddClaimDetailsToFeeIntents() *gormigrate.Migration {
	type FeeIntent struct {
		PaymentID   string `gorm:"type:varchar(100)"`
		MessagingID string `gorm:"type:varchar(64)"`
		Email       string `gorm:"type:varchar(255)"`
	}
	columns := []string{"PaymentID", "MessagingID", "Email"}

	return &gormigrate.Migration{
		ID: "000004_add_claim_details_to_fee_intents",
		Migrate: func(tx *gorm.DB) error {
			m := tx.Table("fee_intents").Migrator()
			for _, column := range columns {
				if m.HasColumn(&FeeIntent{}, column) {
					continue
				}
				if err := m.AddColumn(&FeeIntent{}, column); err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			m := tx.Table("fee_intents").Migrator()
			for _, column := range columns {
				if err := m.DropColumn(&FeeIntent{}, column); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
