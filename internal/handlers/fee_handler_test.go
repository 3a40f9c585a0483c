package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eduvault/backend/internal/database"
	"github.com/eduvault/backend/internal/middleware"
	"github.com/eduvault/backend/internal/models"
	"github.com/eduvault/backend/internal/services/ledger"
	"github.com/eduvault/backend/internal/services/payment"
	"github.com/eduvault/backend/internal/services/receipt"
	"github.com/eduvault/backend/internal/services/settlement"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockIntentCreator struct {
	mock.Mock
}

func (m *mockIntentCreator) CreateIntent(ctx context.Context, amount float64, currency, payerID string, opts ...payment.IntentOption) (*models.PaymentIntent, error) {
	args := m.Called(ctx, amount, currency, payerID)
	intent, _ := args.Get(0).(*models.PaymentIntent)
	return intent, args.Error(1)
}

type mockSettler struct {
	mock.Mock
}

func (m *mockSettler) Settle(ctx context.Context, claim models.SettlementClaim) (*settlement.Result, error) {
	args := m.Called(ctx, claim)
	result, _ := args.Get(0).(*settlement.Result)
	return result, args.Error(1)
}

func (m *mockSettler) History(ctx context.Context, payerID string) ([]models.FeeSettlement, error) {
	args := m.Called(ctx, payerID)
	history, _ := args.Get(0).([]models.FeeSettlement)
	return history, args.Error(1)
}

func (m *mockSettler) Lookup(ctx context.Context, ledgerReference string) (*models.FeeSettlement, error) {
	args := m.Called(ctx, ledgerReference)
	s, _ := args.Get(0).(*models.FeeSettlement)
	return s, args.Error(1)
}

type stubRenderer struct {
	data receipt.ReceiptData
}

func (r *stubRenderer) Render(ctx context.Context, data receipt.ReceiptData) (io.Reader, error) {
	r.data = data
	return strings.NewReader("%PDF-1.3 receipt"), nil
}

func newTestRouter(h *FeeHandler, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(extra...)
	r.POST("/fees/create-intent", h.CreateIntent)
	r.POST("/fees/verify", h.Verify)
	r.GET("/fees/history/:studentId", h.History)
	r.GET("/fees/receipts/:reference", h.Receipt)
	r.GET("/fees/receipts/:reference/document", h.ReceiptDocument)
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCreateIntent(t *testing.T) {
	intents := new(mockIntentCreator)
	h := NewFeeHandler(intents, new(mockSettler), &stubRenderer{}, receipt.NewGenerator("https://fees.example.edu", ""), "Test College", nil)
	r := newTestRouter(h)

	intents.On("CreateIntent", mock.Anything, 500.0, "INR", "STU-1").Return(&models.PaymentIntent{
		IntentID:                  "01HINTENT",
		Provider:                  models.ProviderDomestic,
		OrderReference:            "order_1",
		DisplayAmount:             500,
		DisplayCurrency:           "INR",
		ScannablePaymentReference: "upi://pay?pa=college@upi&am=500&cu=INR",
	}, nil).Once()

	w := doJSON(r, http.MethodPost, "/fees/create-intent", map[string]any{"amount": 500, "currency": "INR", "studentId": "STU-1", "phone": "+919800000000"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "01HINTENT", body["intentId"])
	assert.Equal(t, "DOMESTIC_GATEWAY", body["provider"])

	t.Run("missing fields", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/fees/create-intent", map[string]any{"currency": "INR", "studentId": "STU-1"})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doJSON(r, http.MethodPost, "/fees/create-intent", map[string]any{"amount": 10})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no provider", func(t *testing.T) {
		intents.On("CreateIntent", mock.Anything, 20.0, "USD", "STU-1").Return(nil, payment.ErrNoProviderConfigured).Once()
		w := doJSON(r, http.MethodPost, "/fees/create-intent", map[string]any{"amount": 20, "currency": "USD", "studentId": "STU-1"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "NoProviderConfigured", decode(t, w)["code"])
	})

	intents.AssertExpectations(t)
}

func TestVerify(t *testing.T) {
	claim := models.SettlementClaim{IntentID: "01HINTENT", Provider: models.ProviderDomestic, PayerID: "STU-1", OrderID: "order_1", PaymentID: "pay_1"}

	t.Run("recorded", func(t *testing.T) {
		settler := new(mockSettler)
		r := newTestRouter(NewFeeHandler(new(mockIntentCreator), settler, &stubRenderer{}, receipt.NewGenerator("", ""), "", nil))
		settler.On("Settle", mock.Anything, claim).Return(&settlement.Result{
			TransactionHash: "0xabc",
			ReceiptURL:      "https://explorer/tx/0xabc",
			Notifications:   map[string]bool{"whatsapp": true, "sms": false},
		}, nil)

		w := doJSON(r, http.MethodPost, "/fees/verify", claim)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "0xabc", body["transactionHash"])
		assert.Equal(t, map[string]any{"whatsapp": true, "sms": false}, body["notifications"])
	})

	errorCases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: order not paid", payment.ErrVerificationFailed), http.StatusBadRequest, "VerificationFailed"},
		{fmt.Errorf("%w: already settled", settlement.ErrIntentState), http.StatusConflict, "IntentAlreadySettled"},
		{fmt.Errorf("%w after 3 attempts", ledger.ErrLedgerWriteFailed), http.StatusBadGateway, "LedgerWriteFailed"},
		{fmt.Errorf("%w: timeout", payment.ErrGatewayUnavailable), http.StatusBadGateway, "GatewayUnavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "InternalError"},
	}
	for _, tc := range errorCases {
		t.Run(tc.code, func(t *testing.T) {
			settler := new(mockSettler)
			r := newTestRouter(NewFeeHandler(new(mockIntentCreator), settler, &stubRenderer{}, receipt.NewGenerator("", ""), "", nil))
			settler.On("Settle", mock.Anything, claim).Return(nil, tc.err)

			w := doJSON(r, http.MethodPost, "/fees/verify", claim)
			assert.Equal(t, tc.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, tc.code, body["code"])
			if tc.status == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", body["error"])
			}
		})
	}
}

func TestHistory(t *testing.T) {
	settler := new(mockSettler)
	r := newTestRouter(NewFeeHandler(new(mockIntentCreator), settler, &stubRenderer{}, receipt.NewGenerator("", ""), "", nil))
	settler.On("History", mock.Anything, "STU-1").Return([]models.FeeSettlement{
		{PayerID: "STU-1", SettlementID: "pay_1", Amount: 500, Currency: "INR", LedgerReference: "0xabc", Status: models.SettlementStatusRecorded},
	}, nil)

	w := doJSON(r, http.MethodGet, "/fees/history/STU-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	settlements, ok := body["settlements"].([]any)
	require.True(t, ok)
	require.Len(t, settlements, 1)
	assert.Equal(t, "0xabc", settlements[0].(map[string]any)["transaction_hash"])
}

func TestReceipt(t *testing.T) {
	s := &models.FeeSettlement{PayerID: "STU-1", SettlementID: "pay_1", Amount: 500, Currency: "INR", LedgerReference: "mock_abc", Status: models.SettlementStatusRecorded}

	t.Run("renders pdf", func(t *testing.T) {
		settler := new(mockSettler)
		renderer := &stubRenderer{}
		r := newTestRouter(NewFeeHandler(new(mockIntentCreator), settler, renderer, receipt.NewGenerator("https://fees.example.edu", ""), "Test College", nil))
		settler.On("Lookup", mock.Anything, "mock_abc").Return(s, nil)

		w := doJSON(r, http.MethodGet, "/fees/receipts/mock_abc", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
		assert.True(t, strings.HasPrefix(w.Body.String(), "%PDF"))
		assert.Equal(t, "Test College", renderer.data.Institution)
		assert.Equal(t, "https://fees.example.edu/receipts/mock_abc", renderer.data.VerifyURL)
	})

	t.Run("unknown reference", func(t *testing.T) {
		settler := new(mockSettler)
		r := newTestRouter(NewFeeHandler(new(mockIntentCreator), settler, &stubRenderer{}, receipt.NewGenerator("", ""), "", nil))
		settler.On("Lookup", mock.Anything, "missing").Return(nil, database.ErrNotFound)

		w := doJSON(r, http.MethodGet, "/fees/receipts/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("another student's receipt", func(t *testing.T) {
		settler := new(mockSettler)
		asStudent := func(c *gin.Context) { c.Set(middleware.ContextStudentID, "STU-2") }
		r := newTestRouter(NewFeeHandler(new(mockIntentCreator), settler, &stubRenderer{}, receipt.NewGenerator("", ""), "", nil), asStudent)
		settler.On("Lookup", mock.Anything, "mock_abc").Return(s, nil)

		w := doJSON(r, http.MethodGet, "/fees/receipts/mock_abc", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestReceiptDocument(t *testing.T) {
	s := &models.FeeSettlement{PayerID: "STU-1", SettlementID: "pay_1", Amount: 500, Currency: "INR", LedgerReference: "mock_abc", Status: models.SettlementStatusRecorded}
	generator := receipt.NewGenerator("https://fees.example.edu/fees", "").WithSigningKey("receipt-key")
	signed := generator.SignedDocumentURL("mock_abc")
	path := strings.TrimPrefix(signed, "https://fees.example.edu")

	t.Run("signed link renders pdf", func(t *testing.T) {
		settler := new(mockSettler)
		r := newTestRouter(NewFeeHandler(new(mockIntentCreator), settler, &stubRenderer{}, generator, "Test College", nil))
		settler.On("Lookup", mock.Anything, "mock_abc").Return(s, nil)

		w := doJSON(r, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	})

	t.Run("bad or missing signature", func(t *testing.T) {
		settler := new(mockSettler)
		r := newTestRouter(NewFeeHandler(new(mockIntentCreator), settler, &stubRenderer{}, generator, "", nil))

		for _, p := range []string{
			"/fees/receipts/mock_abc/document",
			"/fees/receipts/mock_abc/document?sig=deadbeef",
			strings.Replace(path, "mock_abc", "mock_xyz", 1),
		} {
			w := doJSON(r, http.MethodGet, p, nil)
			assert.Equal(t, http.StatusForbidden, w.Code, p)
		}
		settler.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)
	})

	t.Run("no signing key rejects every link", func(t *testing.T) {
		settler := new(mockSettler)
		r := newTestRouter(NewFeeHandler(new(mockIntentCreator), settler, &stubRenderer{}, receipt.NewGenerator("https://fees.example.edu/fees", ""), "", nil))

		w := doJSON(r, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
