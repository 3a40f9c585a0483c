package channels

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// WhatsAppChannel sends messages through the WhatsApp Cloud API
type WhatsAppChannel struct {
	baseURL       string
	phoneNumberID string
	client        *http.Client
}

// NewWhatsAppChannel creates a channel authenticated with a long-lived access token
func NewWhatsAppChannel(baseURL, phoneNumberID, accessToken string) *WhatsAppChannel {
	client := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	client.Timeout = defaultTimeout

	return &WhatsAppChannel{
		baseURL:       strings.TrimRight(baseURL, "/"),
		phoneNumberID: phoneNumberID,
		client:        client,
	}
}

type whatsAppMessage struct {
	MessagingProduct string            `json:"messaging_product"`
	To               string            `json:"to"`
	Type             string            `json:"type"`
	Text             *whatsAppText     `json:"text,omitempty"`
	Document         *whatsAppDocument `json:"document,omitempty"`
}

type whatsAppText struct {
	Body string `json:"body"`
}

type whatsAppDocument struct {
	Link     string `json:"link"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText sends a plain text message to phone
func (c *WhatsAppChannel) SendText(ctx context.Context, phone, message string) error {
	return c.send(ctx, whatsAppMessage{
		MessagingProduct: "whatsapp",
		To:               normalizePhone(phone),
		Type:             "text",
		Text:             &whatsAppText{Body: message},
	})
}

// SendDocument sends a document by link; the Cloud API downloads it from documentURL
func (c *WhatsAppChannel) SendDocument(ctx context.Context, phone, documentURL, filename, caption string) error {
	return c.send(ctx, whatsAppMessage{
		MessagingProduct: "whatsapp",
		To:               normalizePhone(phone),
		Type:             "document",
		Document:         &whatsAppDocument{Link: documentURL, Filename: filename, Caption: caption},
	})
}

func (c *WhatsAppChannel) send(ctx context.Context, msg whatsAppMessage) error {
	var resp whatsAppResponse
	endpoint := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	if err := postJSON(ctx, c.client, endpoint, msg, &resp); err != nil {
		return fmt.Errorf("whatsapp: %w", err)
	}
	if len(resp.Messages) == 0 {
		return fmt.Errorf("whatsapp: message not accepted")
	}
	return nil
}

// normalizePhone strips formatting; the Cloud API expects digits only
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
