package receipt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/eduvault/backend/internal/models"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ReceiptData is everything printed on a fee receipt
type ReceiptData struct {
	Institution     string
	StudentID       string
	Provider        string
	SettlementID    string
	Amount          float64
	Currency        string
	PaidAt          time.Time
	LedgerReference string
	LedgerStatus    string
	VerifyURL       string
}

// NewReceiptData builds receipt data from a settlement row
func NewReceiptData(institution string, s models.FeeSettlement, verifyURL string) ReceiptData {
	status := "Recorded on ledger"
	switch {
	case s.Status == models.SettlementStatusLedgerFailed:
		status = "Pending ledger reconciliation"
	case s.Degraded:
		status = "Recorded locally (ledger offline)"
	}
	return ReceiptData{
		Institution:     institution,
		StudentID:       s.PayerID,
		Provider:        string(s.Provider),
		SettlementID:    s.SettlementID,
		Amount:          s.Amount,
		Currency:        s.Currency,
		PaidAt:          s.VerifiedAt,
		LedgerReference: s.LedgerReference,
		LedgerStatus:    status,
		VerifyURL:       verifyURL,
	}
}

// PDFRenderer renders fee receipts as PDF documents
type PDFRenderer struct{}

// NewPDFRenderer creates a new renderer
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

// Render produces the receipt PDF
func (r *PDFRenderer) Render(ctx context.Context, receipt ReceiptData) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(25,
		text.NewCol(8, "Fee Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, receipt.Institution, props.Text{
			Size:  11,
			Style: fontstyle.Bold,
			Align: align.Right,
			Top:   3,
		}),
	)

	m.AddRow(30,
		col.New(8).Add(
			text.New("Student: "+receipt.StudentID, props.Text{Top: 0}),
			text.New("Paid on: "+receipt.PaidAt.UTC().Format("02 Jan 2006 15:04 MST"), props.Text{Top: 5}),
			text.New("Gateway: "+receipt.Provider, props.Text{Top: 10}),
			text.New("Payment reference: "+receipt.SettlementID, props.Text{Top: 15}),
		),
		col.New(4),
	)

	m.AddRow(15,
		text.NewCol(12, formatAmount(receipt.Amount, receipt.Currency)+" received", props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(4, "Ledger status", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(8, receipt.LedgerStatus, props.Text{Size: 9}),
	)
	m.AddRow(15,
		text.NewCol(4, "Ledger reference", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(8, receipt.LedgerReference, props.Text{Size: 8}),
	)

	if receipt.VerifyURL != "" {
		m.AddRow(40,
			code.NewQrCol(3, receipt.VerifyURL, props.Rect{Center: true, Percent: 90}),
			text.NewCol(9, "Scan to verify this payment: "+receipt.VerifyURL, props.Text{Size: 8, Top: 15}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("error generating receipt pdf: %w", err)
	}

	return bytes.NewReader(doc.GetBytes()), nil
}

func formatAmount(amount float64, currency string) string {
	return currency + " " + strconv.FormatFloat(amount, 'f', 2, 64)
}
