package channels

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// TelegramChannel sends messages through the Telegram Bot API
type TelegramChannel struct {
	baseURL  string
	botToken string
	client   *http.Client
}

// NewTelegramChannel creates a new Telegram channel
func NewTelegramChannel(baseURL, botToken string) *TelegramChannel {
	return &TelegramChannel{
		baseURL:  strings.TrimRight(baseURL, "/"),
		botToken: botToken,
		client:   &http.Client{Timeout: defaultTimeout},
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendText sends message to a chat id
func (c *TelegramChannel) SendText(ctx context.Context, chatID, message string) error {
	return c.call(ctx, "sendMessage", map[string]string{
		"chat_id": chatID,
		"text":    message,
	})
}

// SendDocument sends a file by URL with a caption. The Bot API names the
// file after the URL, so filename is not sent.
func (c *TelegramChannel) SendDocument(ctx context.Context, chatID, documentURL, _, caption string) error {
	return c.call(ctx, "sendDocument", map[string]string{
		"chat_id":  chatID,
		"document": documentURL,
		"caption":  caption,
	})
}

func (c *TelegramChannel) call(ctx context.Context, method string, body map[string]string) error {
	var resp telegramResponse
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.botToken, method)
	if err := postJSON(ctx, c.client, endpoint, body, &resp); err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	if !resp.OK {
		return fmt.Errorf("telegram %s: %s", method, resp.Description)
	}
	return nil
}
