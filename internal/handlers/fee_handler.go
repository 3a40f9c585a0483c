package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/eduvault/backend/internal/database"
	"github.com/eduvault/backend/internal/logger"
	"github.com/eduvault/backend/internal/middleware"
	"github.com/eduvault/backend/internal/models"
	"github.com/eduvault/backend/internal/services/exchange"
	"github.com/eduvault/backend/internal/services/ledger"
	"github.com/eduvault/backend/internal/services/payment"
	"github.com/eduvault/backend/internal/services/receipt"
	"github.com/eduvault/backend/internal/services/settlement"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IntentCreator creates payment intents
type IntentCreator interface {
	CreateIntent(ctx context.Context, amount float64, currency, payerID string, opts ...payment.IntentOption) (*models.PaymentIntent, error)
}

// Settler settles claims and serves settlement records
type Settler interface {
	Settle(ctx context.Context, claim models.SettlementClaim) (*settlement.Result, error)
	History(ctx context.Context, payerID string) ([]models.FeeSettlement, error)
	Lookup(ctx context.Context, ledgerReference string) (*models.FeeSettlement, error)
}

// ReceiptRenderer renders a receipt document
type ReceiptRenderer interface {
	Render(ctx context.Context, data receipt.ReceiptData) (io.Reader, error)
}

// FeeHandler handles fee payment requests
type FeeHandler struct {
	intents     IntentCreator
	settler     Settler
	renderer    ReceiptRenderer
	receipts    *receipt.Generator
	institution string
	log         *zap.Logger
}

// NewFeeHandler creates a new fee handler
func NewFeeHandler(intents IntentCreator, settler Settler, renderer ReceiptRenderer, receipts *receipt.Generator, institution string, log *zap.Logger) *FeeHandler {
	return &FeeHandler{
		intents:     intents,
		settler:     settler,
		renderer:    renderer,
		receipts:    receipts,
		institution: institution,
		log:         logger.OrNop(log),
	}
}

// CreateIntentRequest represents a request to start a fee payment
type CreateIntentRequest struct {
	Amount    float64 `json:"amount" binding:"required,gt=0"`
	Currency  string  `json:"currency"`
	StudentID string  `json:"studentId" binding:"required"`
	Phone     string  `json:"phone"`
}

// VerifyResponse is returned once a payment is recorded
type VerifyResponse struct {
	Success         bool            `json:"success"`
	TransactionHash string          `json:"transactionHash"`
	ReceiptURL      string          `json:"receiptUrl"`
	Degraded        bool            `json:"degraded,omitempty"`
	Notifications   map[string]bool `json:"notifications"`
}

// CreateIntent creates a payment intent for a student's fee
func (h *FeeHandler) CreateIntent(c *gin.Context) {
	var req CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount and studentId are required", "code": "InvalidRequest"})
		return
	}

	intent, err := h.intents.CreateIntent(c.Request.Context(), req.Amount, req.Currency, req.StudentID, payment.WithContactPhone(req.Phone))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, intent)
}

// Verify confirms a payment with its gateway and records it
func (h *FeeHandler) Verify(c *gin.Context) {
	var claim models.SettlementClaim
	if err := c.ShouldBindJSON(&claim); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settlement claim", "code": "VerificationFailed"})
		return
	}

	result, err := h.settler.Settle(c.Request.Context(), claim)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, VerifyResponse{
		Success:         true,
		TransactionHash: result.TransactionHash,
		ReceiptURL:      result.ReceiptURL,
		Degraded:        result.Degraded,
		Notifications:   result.Notifications,
	})
}

// History lists a student's settled payments
func (h *FeeHandler) History(c *gin.Context) {
	studentID := c.Param("studentId")

	settlements, err := h.settler.History(c.Request.Context(), studentID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"studentId":   studentID,
		"settlements": settlements,
	})
}

// Receipt renders the PDF receipt of a recorded settlement
func (h *FeeHandler) Receipt(c *gin.Context) {
	s, err := h.settler.Lookup(c.Request.Context(), c.Param("reference"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	if studentID, ok := c.Get(middleware.ContextStudentID); ok && !c.GetBool(middleware.ContextIsAdmin) && studentID != s.PayerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "receipt belongs to another student", "code": "Forbidden"})
		return
	}
	h.renderReceipt(c, s)
}

// ReceiptDocument serves the PDF receipt to holders of a signed link, such as
// messaging providers fetching a notification attachment
func (h *FeeHandler) ReceiptDocument(c *gin.Context) {
	reference := c.Param("reference")
	if !h.receipts.VerifyDocumentSignature(reference, c.Query("sig")) {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid receipt signature", "code": "Forbidden"})
		return
	}

	s, err := h.settler.Lookup(c.Request.Context(), reference)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.renderReceipt(c, s)
}

func (h *FeeHandler) renderReceipt(c *gin.Context, s *models.FeeSettlement) {
	doc, err := h.renderer.Render(c.Request.Context(), receipt.NewReceiptData(h.institution, *s, h.receipts.Generate(s.LedgerReference)))
	if err != nil {
		h.respondError(c, err)
		return
	}
	body, err := io.ReadAll(doc)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", "receipt-"+s.SettlementID+".pdf"))
	c.Data(http.StatusOK, "application/pdf", body)
}

// respondError maps service errors to HTTP statuses
func (h *FeeHandler) respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "InternalError"
	switch {
	case errors.Is(err, payment.ErrInvalidIntentRequest):
		status, code = http.StatusBadRequest, "InvalidRequest"
	case errors.Is(err, exchange.ErrUnsupportedCurrency):
		status, code = http.StatusBadRequest, "UnsupportedCurrency"
	case errors.Is(err, payment.ErrVerificationFailed):
		status, code = http.StatusBadRequest, "VerificationFailed"
	case errors.Is(err, settlement.ErrIntentState):
		status, code = http.StatusConflict, "IntentAlreadySettled"
	case errors.Is(err, database.ErrNotFound):
		status, code = http.StatusNotFound, "NotFound"
	case errors.Is(err, payment.ErrNoProviderConfigured):
		status, code = http.StatusServiceUnavailable, "NoProviderConfigured"
	case errors.Is(err, ledger.ErrLedgerWriteFailed):
		status, code = http.StatusBadGateway, "LedgerWriteFailed"
	case errors.Is(err, payment.ErrGatewayUnavailable):
		status, code = http.StatusBadGateway, "GatewayUnavailable"
	}

	log := logger.WithContext(c.Request.Context(), h.log)
	if status >= http.StatusInternalServerError {
		log.Error("fee request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
	} else {
		log.Info("fee request rejected", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	c.JSON(status, gin.H{"error": message, "code": code})
}
