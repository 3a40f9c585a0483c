package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RateSource returns how many units of `to` one unit of `from` buys
type RateSource interface {
	Rate(ctx context.Context, from, to string) (float64, error)
}

// ExchangeRateResponse represents the response from the ExchangeRate-API
type ExchangeRateResponse struct {
	Result  string             `json:"result"`
	Base    string             `json:"base_code"`
	Updated string             `json:"time_last_update_utc"`
	Rates   map[string]float64 `json:"rates"`
}

// HTTPRateSource fetches live rates from the free ExchangeRate-API
type HTTPRateSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRateSource creates a rate source for baseURL, e.g. https://open.er-api.com/v6/latest
func NewHTTPRateSource(baseURL string) *HTTPRateSource {
	return &HTTPRateSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Rate fetches the from→to rate
func (s *HTTPRateSource) Rate(ctx context.Context, from, to string) (float64, error) {
	url := fmt.Sprintf("%s/%s", s.baseURL, from)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build exchange rate request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch exchange rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("exchange rate API returned status code %d", resp.StatusCode)
	}

	var rateResp ExchangeRateResponse
	if err := json.NewDecoder(resp.Body).Decode(&rateResp); err != nil {
		return 0, fmt.Errorf("failed to decode exchange rate response: %w", err)
	}

	if rateResp.Result != "success" {
		return 0, fmt.Errorf("exchange rate API returned unsuccessful response")
	}

	rate, exists := rateResp.Rates[to]
	if !exists {
		return 0, fmt.Errorf("exchange rate not found for currency %s", to)
	}
	return rate, nil
}

// StaticRateSource serves rates from a fixed table of units-per-USD. It is
// used in development and tests.
type StaticRateSource map[string]float64

// Rate derives from→to through USD
func (s StaticRateSource) Rate(_ context.Context, from, to string) (float64, error) {
	fromPerUSD, ok := s[from]
	if !ok {
		return 0, fmt.Errorf("no static rate for %s", from)
	}
	toPerUSD, ok := s[to]
	if !ok {
		return 0, fmt.Errorf("no static rate for %s", to)
	}
	return toPerUSD / fromPerUSD, nil
}
