package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IntentStatus is the lifecycle state of a persisted fee intent
type IntentStatus string

const (
	IntentStatusCreated      IntentStatus = "created"
	IntentStatusVerifying    IntentStatus = "verifying"
	IntentStatusVerified     IntentStatus = "verified"
	IntentStatusRecorded     IntentStatus = "recorded"
	IntentStatusLedgerFailed IntentStatus = "ledger_failed"
)

// SettlementStatus is the state of a settlement row in the transaction store
type SettlementStatus string

const (
	SettlementStatusRecording    SettlementStatus = "recording"
	SettlementStatusRecorded     SettlementStatus = "recorded"
	SettlementStatusLedgerFailed SettlementStatus = "ledger_failed"
)

// FeeIntent is the correlation record written when an intent is created.
// Claims must name it by IntentID before they are verified.
type FeeIntent struct {
	Base
	IntentID       string       `gorm:"type:varchar(26);uniqueIndex;not null" json:"intent_id"`
	PayerID        string       `gorm:"type:varchar(100);index;not null" json:"payer_id"`
	ContactPhone   string       `gorm:"type:varchar(32)" json:"contact_phone"`
	Provider       Provider     `gorm:"type:varchar(32);not null" json:"provider"`
	OrderReference string       `gorm:"type:varchar(100);index;not null" json:"order_reference"`
	Amount         float64      `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency       string       `gorm:"type:varchar(3);not null" json:"currency"`
	Status         IntentStatus `gorm:"type:varchar(20);index;not null" json:"status"`

	// Claim details captured when verification starts, so reconciliation can
	// re-verify a claim whose request died after the gateway confirmed it.
	PaymentID   string `gorm:"type:varchar(100)" json:"-"`
	MessagingID string `gorm:"type:varchar(64)" json:"-"`
	Email       string `gorm:"type:varchar(255)" json:"-"`
}

// Claim rebuilds the settlement claim captured when verification started
func (i FeeIntent) Claim() SettlementClaim {
	claim := SettlementClaim{
		IntentID:     i.IntentID,
		Provider:     i.Provider,
		PayerID:      i.PayerID,
		ContactPhone: i.ContactPhone,
		MessagingID:  i.MessagingID,
		Email:        i.Email,
		PaymentID:    i.PaymentID,
	}
	switch i.Provider {
	case ProviderDomestic:
		claim.OrderID = i.OrderReference
	case ProviderInternational:
		claim.PaymentIntentID = i.OrderReference
	}
	return claim
}

// TableName keeps the table name stable regardless of naming strategy
func (FeeIntent) TableName() string { return "fee_intents" }

// FeeSettlement is a settled fee payment as seen by the history endpoint and
// the reconciliation job.
type FeeSettlement struct {
	Base
	IntentID        string           `gorm:"type:varchar(26);uniqueIndex;not null" json:"intent_id"`
	PayerID         string           `gorm:"type:varchar(100);index;not null" json:"student_id"`
	Provider        Provider         `gorm:"type:varchar(32);not null" json:"provider"`
	SettlementID    string           `gorm:"type:varchar(100);not null" json:"settlement_id"`
	Amount          float64          `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency        string           `gorm:"type:varchar(3);not null" json:"currency"`
	ContactPhone    string           `gorm:"type:varchar(32)" json:"-"`
	MessagingID     string           `gorm:"type:varchar(64)" json:"-"`
	Email           string           `gorm:"type:varchar(255)" json:"-"`
	LedgerReference string           `gorm:"type:varchar(100);index" json:"transaction_hash"`
	ReceiptURL      string           `gorm:"type:varchar(255)" json:"receipt_url"`
	Degraded        bool             `gorm:"default:false" json:"degraded"`
	Status          SettlementStatus `gorm:"type:varchar(20);index;not null" json:"status"`
	LastError       string           `gorm:"type:text" json:"-"`
	Attempts        int              `gorm:"default:0" json:"-"`
	VerifiedAt      time.Time        `json:"verified_at"`
	RecordedAt      *time.Time       `json:"recorded_at,omitempty"`
}

// TableName keeps the table name stable regardless of naming strategy
func (FeeSettlement) TableName() string { return "fee_settlements" }

// Contact returns the notification contact captured with the settlement
func (s FeeSettlement) Contact() Contact {
	return Contact{Phone: s.ContactPhone, MessagingID: s.MessagingID, Email: s.Email}
}

// LedgerRecord mirrors every successful ledger write locally. Rows are only
// ever inserted.
type LedgerRecord struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SubjectID       string         `gorm:"type:varchar(100);index;not null" json:"subject_id"`
	ActionKey       string         `gorm:"type:varchar(100);not null" json:"action_key"`
	Amount          float64        `gorm:"type:decimal(20,2)" json:"amount"`
	UnitKind        LedgerUnitKind `gorm:"type:varchar(16);not null" json:"unit_kind"`
	UnitValue       string         `gorm:"type:varchar(64);not null" json:"unit_value"`
	LedgerReference string         `gorm:"type:varchar(100);uniqueIndex;not null" json:"ledger_reference"`
	Degraded        bool           `gorm:"default:false" json:"degraded"`
	CreatedAt       time.Time      `json:"created_at"`
}

// TableName keeps the table name stable regardless of naming strategy
func (LedgerRecord) TableName() string { return "ledger_entries" }

// BeforeCreate assigns the primary key
func (r *LedgerRecord) BeforeCreate(tx *gorm.DB) error {
	assignID(&r.ID)
	return nil
}

// BeforeUpdate refuses to modify a ledger mirror row
func (r *LedgerRecord) BeforeUpdate(tx *gorm.DB) error {
	return gorm.ErrNotImplemented
}

// NewLedgerRecord converts a committed entry into its mirror row
func NewLedgerRecord(entry LedgerEntry) *LedgerRecord {
	return &LedgerRecord{
		SubjectID:       entry.SubjectID,
		ActionKey:       entry.ActionKey,
		Amount:          entry.Amount,
		UnitKind:        entry.Unit.Kind,
		UnitValue:       entry.Unit.Value,
		LedgerReference: entry.LedgerReference,
		Degraded:        entry.Degraded,
	}
}
