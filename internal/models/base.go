package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base holds the key and timestamps shared by the mutable fee tables.
// Fee rows are never soft deleted; a settlement that exists must stay visible
// to history and reconciliation.
type Base struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns the primary key when the caller left it empty
func (base *Base) BeforeCreate(tx *gorm.DB) error {
	assignID(&base.ID)
	return nil
}

func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
