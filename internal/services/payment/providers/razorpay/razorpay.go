package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/eduvault/backend/internal/services/payment"
	"github.com/eduvault/backend/internal/utils"
)

// RazorpayProvider implements payment.DomesticGateway against the Razorpay Orders API
type RazorpayProvider struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
}

// RazorpayConfig holds configuration for the Razorpay provider
type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	BaseURL   string
}

// NewRazorpayProvider creates a new Razorpay provider
func NewRazorpayProvider(config RazorpayConfig) *RazorpayProvider {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.razorpay.com"
	}

	return &RazorpayProvider{
		keyID:     config.KeyID,
		keySecret: config.KeySecret,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Amount   int64             `json:"amount"` // paise for INR
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// OrderResponse represents an order returned by Razorpay
type OrderResponse struct {
	ID         string `json:"id"`
	Entity     string `json:"entity"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	CreatedAt  int64  `json:"created_at"`
}

// ErrorResponse represents an error returned by Razorpay
type ErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// VerifyPaymentSignature checks the checkout signature, an HMAC-SHA256 of
// "<order id>|<payment id>" keyed with the API secret.
func (p *RazorpayProvider) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return utils.VerifyHMAC(orderID+"|"+paymentID, signature, p.keySecret)
}

// CreateOrder creates an order for amountMinor in currency
func (p *RazorpayProvider) CreateOrder(ctx context.Context, amountMinor int64, currency, receiptTag string) (*payment.Order, error) {
	reqBody, err := json.Marshal(CreateOrderRequest{
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receiptTag,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/orders", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var order OrderResponse
	if err := p.do(httpReq, &order); err != nil {
		return nil, err
	}
	return toOrder(order), nil
}

// FetchOrder fetches an order by id
func (p *RazorpayProvider) FetchOrder(ctx context.Context, orderID string) (*payment.Order, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	var order OrderResponse
	if err := p.do(httpReq, &order); err != nil {
		return nil, err
	}
	return toOrder(order), nil
}

func (p *RazorpayProvider) do(httpReq *http.Request, out any) error {
	httpReq.SetBasicAuth(p.keyID, p.keySecret)

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
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Description != "" {
			return fmt.Errorf("razorpay error (%d): %s", resp.StatusCode, apiErr.Error.Description)
		}
		return fmt.Errorf("razorpay error: status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("error parsing response: %w", err)
	}
	return nil
}

func toOrder(o OrderResponse) *payment.Order {
	return &payment.Order{
		ID:       o.ID,
		Status:   o.Status,
		Amount:   o.Amount,
		Currency: o.Currency,
	}
}
