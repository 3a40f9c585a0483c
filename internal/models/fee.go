package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider identifies which payment gateway handled a fee payment
type Provider string

const (
	ProviderDomestic      Provider = "DOMESTIC_GATEWAY"
	ProviderInternational Provider = "INTERNATIONAL_GATEWAY"
)

// Valid reports whether p is one of the known gateway providers
func (p Provider) Valid() bool {
	return p == ProviderDomestic || p == ProviderInternational
}

// PaymentIntent is the provider-side payment request handed to the payer's client.
// ScannablePaymentReference is the UPI deep link or checkout URL; QRCode is the
// same payload rendered as a PNG data URL. It is never mutated after creation.
type PaymentIntent struct {
	IntentID                  string      `json:"intentId"`
	Provider                  Provider    `json:"provider"`
	OrderReference            string      `json:"orderReference"`
	ClientSecret              string      `json:"clientSecret,omitempty"`
	DisplayAmount             float64     `json:"displayAmount"`
	DisplayCurrency           string      `json:"displayCurrency"`
	ScannablePaymentReference string      `json:"scannablePaymentReference"`
	QRCode                    string      `json:"qrCode"`
	Conversion                *Conversion `json:"conversion,omitempty"`
}

// Conversion is the base-currency equivalent attached to an intent for display
type Conversion struct {
	ConvertedAmount float64           `json:"convertedAmount"`
	Currency        string            `json:"currency"`
	ServiceFee      float64           `json:"serviceFee"`
	EffectiveRate   float64           `json:"effectiveRate"`
	Quote           ExchangeRateQuote `json:"quote"`
}

// SettlementClaim is what the payer's client reports after paying.
// Nothing in it is trusted until the gateway confirms it.
type SettlementClaim struct {
	IntentID        string   `json:"intentId"`
	Provider        Provider `json:"provider"`
	PayerID         string   `json:"studentId"`
	ContactPhone    string   `json:"phone"`
	MessagingID     string   `json:"messagingId,omitempty"`
	Email           string   `json:"email,omitempty"`
	PaymentID       string   `json:"paymentId,omitempty"`
	OrderID         string   `json:"orderId,omitempty"`
	PaymentIntentID string   `json:"paymentIntentId,omitempty"`
	Signature       string   `json:"signature,omitempty"`
	Amount          *float64 `json:"amount,omitempty"`
	Currency        string   `json:"currency,omitempty"`
}

// Contact returns the notification contact details carried by the claim
func (c SettlementClaim) Contact() Contact {
	return Contact{
		Phone:       c.ContactPhone,
		MessagingID: c.MessagingID,
		Email:       c.Email,
	}
}

// VerifiedSettlement is produced only when a gateway confirms a payment.
// Amount and Currency always come from the gateway's report.
type VerifiedSettlement struct {
	PayerID      string    `json:"payerId"`
	SettlementID string    `json:"settlementId"`
	Amount       float64   `json:"amount"`
	Currency     string    `json:"currency"`
	VerifiedAt   time.Time `json:"verifiedAt"`
}

// LedgerUnitKind tags what a ledger entry's unit means
type LedgerUnitKind string

const (
	LedgerUnitMonetary LedgerUnitKind = "MONETARY"
	LedgerUnitAction   LedgerUnitKind = "ACTION"
)

// LedgerUnit is either a currency code for money movement or a label for a
// non-monetary auditable action such as a book issue.
type LedgerUnit struct {
	Kind  LedgerUnitKind `json:"kind"`
	Value string         `json:"value"`
}

// Monetary builds a currency-denominated ledger unit
func Monetary(currency string) LedgerUnit {
	return LedgerUnit{Kind: LedgerUnitMonetary, Value: currency}
}

// Action builds a ledger unit for a non-monetary action
func Action(label string) LedgerUnit {
	return LedgerUnit{Kind: LedgerUnitAction, Value: label}
}

// IsMonetary reports whether the unit carries a currency code
func (u LedgerUnit) IsMonetary() bool {
	return u.Kind == LedgerUnitMonetary
}

func (u LedgerUnit) String() string {
	return fmt.Sprintf("%s(%s)", u.Kind, u.Value)
}

// Validate rejects units with an unknown kind or empty value
func (u LedgerUnit) Validate() error {
	if u.Kind != LedgerUnitMonetary && u.Kind != LedgerUnitAction {
		return fmt.Errorf("unknown ledger unit kind %q", u.Kind)
	}
	if u.Value == "" {
		return fmt.Errorf("ledger unit %s has no value", u.Kind)
	}
	return nil
}

// LedgerEntry asserts that an auditable action happened. Entries are append-only.
type LedgerEntry struct {
	SubjectID       string     `json:"subjectId"`
	ActionKey       string     `json:"actionKey"`
	Amount          float64    `json:"amount"`
	Unit            LedgerUnit `json:"unit"`
	LedgerReference string     `json:"ledgerReference,omitempty"`
	Degraded        bool       `json:"degraded,omitempty"`
}

// Payload is the canonical encoding submitted to the ledger
func (e LedgerEntry) Payload() ([]byte, error) {
	return json.Marshal(struct {
		SubjectID string     `json:"subject"`
		ActionKey string     `json:"action"`
		Amount    float64    `json:"amount"`
		Unit      LedgerUnit `json:"unit"`
	}{e.SubjectID, e.ActionKey, e.Amount, e.Unit})
}

// Contact is where a payer can be reached. Every field is optional.
type Contact struct {
	Phone       string `json:"phone,omitempty"`
	MessagingID string `json:"messagingId,omitempty"`
	Email       string `json:"email,omitempty"`
}

// NotificationOutcome records whether one channel delivered one message
type NotificationOutcome struct {
	Channel   string `json:"channel"`
	Delivered bool   `json:"delivered"`
}

// ExchangeRateQuote is a short-lived rate between two currencies
type ExchangeRateQuote struct {
	FromCurrency string    `json:"fromCurrency"`
	ToCurrency   string    `json:"toCurrency"`
	Rate         float64   `json:"rate"`
	FetchedAt    time.Time `json:"fetchedAt"`
	FeePercent   float64   `json:"feePercent"`
}
