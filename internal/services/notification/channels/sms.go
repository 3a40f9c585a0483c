package channels

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// SMSChannel sends text messages through a Twilio-compatible REST API
type SMSChannel struct {
	baseURL    string
	accountSID string
	authToken  string
	fromNumber string
	client     *http.Client
}

// NewSMSChannel creates a new SMS channel
func NewSMSChannel(baseURL, accountSID, authToken, fromNumber string) *SMSChannel {
	return &SMSChannel{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		client:     &http.Client{Timeout: defaultTimeout},
	}
}

type smsResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// SendText sends message to phone
func (c *SMSChannel) SendText(ctx context.Context, phone, message string) error {
	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", c.fromNumber)
	form.Set("Body", message)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	var resp smsResponse
	err := postForm(ctx, c.client, endpoint, form, func(req *http.Request) {
		req.SetBasicAuth(c.accountSID, c.authToken)
	}, &resp)
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}

	if resp.ErrorCode != nil || resp.Status == "failed" || resp.Status == "undelivered" {
		return fmt.Errorf("sms: message %s rejected: %s", resp.SID, resp.ErrorMessage)
	}
	return nil
}
