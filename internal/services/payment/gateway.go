package payment

import (
	"context"
	"errors"
	"math"
	"strings"
)

var (
	// ErrNoProviderConfigured is returned when no gateway can take an intent
	ErrNoProviderConfigured = errors.New("no payment provider configured")
	// ErrVerificationFailed is returned when a claim is not backed by a settled payment
	ErrVerificationFailed = errors.New("payment verification failed")
	// ErrGatewayUnavailable wraps transport and API failures from a gateway
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrInvalidIntentRequest is returned for a non-positive amount or missing payer
	ErrInvalidIntentRequest = errors.New("invalid intent request")
)

// Order is a domestic gateway order
type Order struct {
	ID       string
	Status   string
	Amount   int64
	Currency string
}

// OrderStatusPaid is the only domestic order status that counts as settled
const OrderStatusPaid = "paid"

// DomesticGateway creates and inspects order-style payments
type DomesticGateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receiptTag string) (*Order, error)
	FetchOrder(ctx context.Context, orderID string) (*Order, error)
}

// SignatureVerifier is implemented by domestic gateways whose checkout hands
// the client a signature over the order and payment ids.
type SignatureVerifier interface {
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
}

// GatewayIntent is an international gateway payment intent
type GatewayIntent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       int64
	Currency     string
}

// IntentStatusSucceeded is the only international status that counts as settled
const IntentStatusSucceeded = "succeeded"

// InternationalGateway creates and retrieves client-secret style intents
type InternationalGateway interface {
	CreatePaymentIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*GatewayIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*GatewayIntent, error)
}

// zero-decimal currencies in the supported catalog
var zeroDecimal = map[string]bool{"JPY": true}

// ToMinorUnits converts a major-unit amount into the gateway's smallest unit
func ToMinorUnits(amount float64, currency string) int64 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}

// FromMinorUnits converts a gateway amount back into major units
func FromMinorUnits(amount int64, currency string) float64 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return float64(amount)
	}
	return float64(amount) / 100
}
