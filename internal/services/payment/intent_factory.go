package payment

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/eduvault/backend/internal/capability"
	"github.com/eduvault/backend/internal/metrics"
	"github.com/eduvault/backend/internal/models"
	"github.com/eduvault/backend/internal/services/exchange"
	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const domesticCurrency = "INR"

// IntentStore persists the correlation record of a created intent
type IntentStore interface {
	Create(ctx context.Context, intent *models.FeeIntent) error
}

// IntentFactoryConfig carries the factory's collaborators
type IntentFactoryConfig struct {
	Domestic      capability.Capability[DomesticGateway]
	International capability.Capability[InternationalGateway]
	Converter     *exchange.Converter
	Store         IntentStore
	PayeeVPA      string
	PayeeName     string
	CheckoutURL   string
	BaseCurrency  string
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// IntentFactory creates provider-side payment intents
type IntentFactory struct {
	domestic      capability.Capability[DomesticGateway]
	international capability.Capability[InternationalGateway]
	converter     *exchange.Converter
	store         IntentStore
	payeeVPA      string
	payeeName     string
	checkoutURL   string
	baseCurrency  string
	log           *zap.Logger
	metrics       *metrics.Metrics
	newID         func() string
}

// NewIntentFactory creates a new intent factory
func NewIntentFactory(cfg IntentFactoryConfig) *IntentFactory {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	base := cfg.BaseCurrency
	if base == "" {
		base = domesticCurrency
	}
	return &IntentFactory{
		domestic:      cfg.Domestic,
		international: cfg.International,
		converter:     cfg.Converter,
		store:         cfg.Store,
		payeeVPA:      cfg.PayeeVPA,
		payeeName:     cfg.PayeeName,
		checkoutURL:   cfg.CheckoutURL,
		baseCurrency:  base,
		log:           log,
		metrics:       cfg.Metrics,
		newID:         newIntentID,
	}
}

func newIntentID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// IntentOption adjusts the persisted intent record
type IntentOption func(*models.FeeIntent)

// WithContactPhone stores the payer's phone alongside the intent
func WithContactPhone(phone string) IntentOption {
	return func(i *models.FeeIntent) { i.ContactPhone = phone }
}

// CreateIntent selects a gateway for currency and creates a payment intent.
// INR goes to the domestic gateway when it is configured; everything else,
// and INR when the domestic gateway fails, goes to the international one.
func (f *IntentFactory) CreateIntent(ctx context.Context, amount float64, currency, payerID string, opts ...IntentOption) (*models.PaymentIntent, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidIntentRequest)
	}
	if strings.TrimSpace(payerID) == "" {
		return nil, fmt.Errorf("%w: payer id is required", ErrInvalidIntentRequest)
	}
	if strings.TrimSpace(currency) == "" {
		currency = f.baseCurrency
	}
	currency, err := exchange.NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}

	intentID := f.newID()
	log := f.log.With(zap.String("intent_id", intentID), zap.String("payer_id", payerID), zap.String("currency", currency))

	var intent *models.PaymentIntent
	var domesticErr error

	if gateway, ok := f.domestic.Get(); ok && currency == domesticCurrency {
		intent, domesticErr = f.createDomestic(ctx, gateway, intentID, amount, currency, payerID)
		if domesticErr != nil {
			log.Warn("domestic gateway failed to create order", zap.Error(domesticErr))
		}
	}

	if intent == nil {
		gateway, ok := f.international.Get()
		if !ok {
			if domesticErr != nil {
				return nil, fmt.Errorf("%w: %w", ErrNoProviderConfigured, domesticErr)
			}
			return nil, ErrNoProviderConfigured
		}
		intent, err = f.createInternational(ctx, gateway, intentID, amount, currency, payerID)
		if err != nil {
			return nil, err
		}
	}

	intent.Conversion = f.baseConversion(ctx, amount, currency, log)

	record := &models.FeeIntent{
		IntentID:       intentID,
		PayerID:        payerID,
		Provider:       intent.Provider,
		OrderReference: intent.OrderReference,
		Amount:         amount,
		Currency:       currency,
		Status:         models.IntentStatusCreated,
	}
	for _, opt := range opts {
		opt(record)
	}
	if err := f.store.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("error saving intent: %w", err)
	}

	f.metrics.IntentCreated(string(intent.Provider))
	log.Info("payment intent created",
		zap.String("provider", string(intent.Provider)),
		zap.String("order_reference", intent.OrderReference),
		zap.Float64("amount", amount),
	)
	return intent, nil
}

func (f *IntentFactory) createDomestic(ctx context.Context, gateway DomesticGateway, intentID string, amount float64, currency, payerID string) (*models.PaymentIntent, error) {
	order, err := gateway.CreateOrder(ctx, ToMinorUnits(amount, currency), currency, receiptTag(payerID, intentID))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}

	link := UPILink(f.payeeVPA, f.payeeName, amount, currency, order.ID)
	qrCode, err := QRCodeDataURL(link)
	if err != nil {
		return nil, err
	}

	return &models.PaymentIntent{
		IntentID:                  intentID,
		Provider:                  models.ProviderDomestic,
		OrderReference:            order.ID,
		DisplayAmount:             amount,
		DisplayCurrency:           currency,
		ScannablePaymentReference: link,
		QRCode:                    qrCode,
	}, nil
}

func (f *IntentFactory) createInternational(ctx context.Context, gateway InternationalGateway, intentID string, amount float64, currency, payerID string) (*models.PaymentIntent, error) {
	pi, err := gateway.CreatePaymentIntent(ctx, ToMinorUnits(amount, currency), currency, map[string]string{
		"intent_id":  intentID,
		"student_id": payerID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}

	link, err := CheckoutLink(f.checkoutURL, pi.ID, intentID)
	if err != nil {
		return nil, err
	}
	qrCode, err := QRCodeDataURL(link)
	if err != nil {
		return nil, err
	}

	return &models.PaymentIntent{
		IntentID:                  intentID,
		Provider:                  models.ProviderInternational,
		OrderReference:            pi.ID,
		ClientSecret:              pi.ClientSecret,
		DisplayAmount:             amount,
		DisplayCurrency:           currency,
		ScannablePaymentReference: link,
		QRCode:                    qrCode,
	}, nil
}

// baseConversion quotes foreign payments in the base currency for display.
// A rate failure only drops the quote.
func (f *IntentFactory) baseConversion(ctx context.Context, amount float64, currency string, log *zap.Logger) *models.Conversion {
	if f.converter == nil || currency == f.baseCurrency {
		return nil
	}
	quote, err := f.converter.Quote(ctx, amount, currency, f.baseCurrency)
	if err != nil {
		log.Warn("exchange quote unavailable", zap.Error(err))
		return nil
	}
	return &quote
}

// receiptTag is the gateway's receipt field, capped at 40 characters
func receiptTag(payerID, intentID string) string {
	tag := slug.Make(fmt.Sprintf("fee %s %s", payerID, intentID))
	if len(tag) > 40 {
		tag = tag[len(tag)-40:]
	}
	return tag
}
