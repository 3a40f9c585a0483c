package payment

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"net/url"
	"strconv"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

const qrSize = 256

// UPILink builds the UPI deep link a payer's app opens to pay an order
func UPILink(payeeVPA, payeeName string, amount float64, currency, orderID string) string {
	return fmt.Sprintf("upi://pay?pa=%s&pn=%s&am=%s&cu=%s&tr=%s",
		url.QueryEscape(payeeVPA),
		url.PathEscape(payeeName),
		strconv.FormatFloat(amount, 'f', -1, 64),
		currency,
		url.QueryEscape(orderID),
	)
}

// CheckoutLink appends the gateway intent and the correlation id to the
// hosted checkout page URL.
func CheckoutLink(checkoutURL, paymentIntentID, intentID string) (string, error) {
	u, err := url.Parse(checkoutURL)
	if err != nil {
		return "", fmt.Errorf("invalid checkout url: %w", err)
	}
	q := u.Query()
	q.Set("payment_intent", paymentIntentID)
	q.Set("intent", intentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// QRCodeDataURL renders payload as a PNG QR code data URL
func QRCodeDataURL(payload string) (string, error) {
	code, err := qr.Encode(payload, qr.M, qr.Auto)
	if err != nil {
		return "", fmt.Errorf("error encoding qr code: %w", err)
	}
	code, err = barcode.Scale(code, qrSize, qrSize)
	if err != nil {
		return "", fmt.Errorf("error scaling qr code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return "", fmt.Errorf("error rendering qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
