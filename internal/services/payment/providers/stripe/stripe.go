package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eduvault/backend/internal/services/payment"
)

// StripeProvider implements payment.InternationalGateway against the Stripe PaymentIntents API
type StripeProvider struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

// StripeConfig holds configuration for the Stripe provider
type StripeConfig struct {
	SecretKey string
	BaseURL   string
}

// NewStripeProvider creates a new Stripe provider
func NewStripeProvider(config StripeConfig) *StripeProvider {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}

	return &StripeProvider{
		secretKey: config.SecretKey,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// PaymentIntentResponse represents a payment intent returned by Stripe
type PaymentIntentResponse struct {
	ID             string            `json:"id"`
	Object         string            `json:"object"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Status         string            `json:"status"`
	ClientSecret   string            `json:"client_secret"`
	Metadata       map[string]string `json:"metadata"`
	Created        int64             `json:"created"`
}

// ErrorResponse represents an error returned by Stripe
type ErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreatePaymentIntent creates a payment intent for amountMinor in currency
func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*payment.GatewayIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountMinor, 10))
	form.Set("currency", strings.ToLower(currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var pi PaymentIntentResponse
	if err := p.do(httpReq, &pi); err != nil {
		return nil, err
	}
	return toGatewayIntent(pi), nil
}

// RetrievePaymentIntent retrieves a payment intent by id
func (p *StripeProvider) RetrievePaymentIntent(ctx context.Context, id string) (*payment.GatewayIntent, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/payment_intents/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	var pi PaymentIntentResponse
	if err := p.do(httpReq, &pi); err != nil {
		return nil, err
	}
	return toGatewayIntent(pi), nil
}

func (p *StripeProvider) do(httpReq *http.Request, out any) error {
	httpReq.Header.Set("Authorization", "Bearer "+p.secretKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr ErrorResponse
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("stripe error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("stripe error: status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("error parsing response: %w", err)
	}
	return nil
}

// toGatewayIntent reports the received amount once the intent has succeeded
func toGatewayIntent(pi PaymentIntentResponse) *payment.GatewayIntent {
	amount := pi.Amount
	if pi.Status == payment.IntentStatusSucceeded && pi.AmountReceived > 0 {
		amount = pi.AmountReceived
	}
	return &payment.GatewayIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       pi.Status,
		Amount:       amount,
		Currency:     strings.ToUpper(pi.Currency),
	}
}
