package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/eduvault/backend/internal/models"
)

// ErrUnsupportedCurrency is returned for currency codes outside the catalog
var ErrUnsupportedCurrency = errors.New("unsupported currency")

// SupportedCurrencies is the static catalog of ISO codes the converter accepts
var SupportedCurrencies = map[string]bool{
	"INR": true, "USD": true, "EUR": true, "GBP": true, "AUD": true,
	"CAD": true, "SGD": true, "AED": true, "JPY": true, "CHF": true,
	"NZD": true, "MYR": true, "NPR": true, "BDT": true, "LKR": true,
	"ZAR": true, "CNY": true, "HKD": true, "SAR": true, "QAR": true,
	"KWD": true,
}

// Result is the outcome of a single conversion
type Result struct {
	ConvertedAmount float64 `json:"convertedAmount"`
	Rate            float64 `json:"rate"`
}

// Converter converts amounts between catalog currencies
type Converter struct {
	source     RateSource
	feePercent float64
	now        func() time.Time
}

// NewConverter creates a converter; feePercent is the service fee charged on
// cross-currency payments.
func NewConverter(source RateSource, feePercent float64) *Converter {
	return &Converter{source: source, feePercent: feePercent, now: time.Now}
}

// NormalizeCurrency upper-cases a code and checks it against the catalog
func NormalizeCurrency(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if !SupportedCurrencies[normalized] {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	return normalized, nil
}

// Convert converts amount from one currency to another. Equal currencies
// return the amount unchanged with rate 1 and never touch the rate source.
func (c *Converter) Convert(ctx context.Context, amount float64, fromCurrency, toCurrency string) (Result, error) {
	from, err := NormalizeCurrency(fromCurrency)
	if err != nil {
		return Result{}, err
	}
	to, err := NormalizeCurrency(toCurrency)
	if err != nil {
		return Result{}, err
	}

	if from == to {
		return Result{ConvertedAmount: amount, Rate: 1}, nil
	}

	rate, err := c.source.Rate(ctx, from, to)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get exchange rate %s→%s: %w", from, to, err)
	}
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return Result{}, fmt.Errorf("invalid exchange rate %v for %s→%s", rate, from, to)
	}

	return Result{ConvertedAmount: amount * rate, Rate: rate}, nil
}

// Quote converts amount and prices the service fee. The fee applies only to
// cross-currency payments; EffectiveRate is what the payer pays per unit
// including the fee.
func (c *Converter) Quote(ctx context.Context, amount float64, fromCurrency, toCurrency string) (models.Conversion, error) {
	result, err := c.Convert(ctx, amount, fromCurrency, toCurrency)
	if err != nil {
		return models.Conversion{}, err
	}

	from, _ := NormalizeCurrency(fromCurrency)
	to, _ := NormalizeCurrency(toCurrency)

	feePercent := c.feePercent
	if from == to {
		feePercent = 0
	}
	fee := roundMinor(result.ConvertedAmount * feePercent / 100)
	converted := roundMinor(result.ConvertedAmount)

	effective := result.Rate
	if amount != 0 {
		effective = (converted + fee) / amount
	}

	return models.Conversion{
		ConvertedAmount: converted,
		Currency:        to,
		ServiceFee:      fee,
		EffectiveRate:   effective,
		Quote: models.ExchangeRateQuote{
			FromCurrency: from,
			ToCurrency:   to,
			Rate:         result.Rate,
			FetchedAt:    c.now().UTC(),
			FeePercent:   feePercent,
		},
	}, nil
}

func roundMinor(v float64) float64 {
	return math.Round(v*100) / 100
}
