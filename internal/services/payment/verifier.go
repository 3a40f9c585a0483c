package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eduvault/backend/internal/capability"
	"github.com/eduvault/backend/internal/models"
	"go.uber.org/zap"
)

// Verifier confirms settlement claims against the gateway that took the payment
type Verifier struct {
	domestic      capability.Capability[DomesticGateway]
	international capability.Capability[InternationalGateway]
	log           *zap.Logger
	now           func() time.Time
}

// NewVerifier creates a new verifier
func NewVerifier(domestic capability.Capability[DomesticGateway], international capability.Capability[InternationalGateway], log *zap.Logger) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{domestic: domestic, international: international, log: log, now: time.Now}
}

// Verify asks the gateway whether the claimed payment settled. Amount and
// currency of the result come from the gateway, never from the claim.
func (v *Verifier) Verify(ctx context.Context, claim models.SettlementClaim) (*models.VerifiedSettlement, error) {
	switch claim.Provider {
	case models.ProviderDomestic:
		return v.verifyDomestic(ctx, claim)
	case models.ProviderInternational:
		return v.verifyInternational(ctx, claim)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrVerificationFailed, claim.Provider)
	}
}

// verifyDomestic trusts the caller's payment id: an order fetch does not
// return the id of the payment that paid it.
func (v *Verifier) verifyDomestic(ctx context.Context, claim models.SettlementClaim) (*models.VerifiedSettlement, error) {
	if claim.OrderID == "" || claim.PaymentID == "" {
		return nil, fmt.Errorf("%w: orderId and paymentId are required", ErrVerificationFailed)
	}
	gateway, ok := v.domestic.Get()
	if !ok {
		return nil, fmt.Errorf("%w: domestic gateway not configured", ErrVerificationFailed)
	}
	if sv, ok := gateway.(SignatureVerifier); ok && claim.Signature != "" {
		if !sv.VerifyPaymentSignature(claim.OrderID, claim.PaymentID, claim.Signature) {
			v.log.Warn("payment signature mismatch", zap.String("order_id", claim.OrderID))
			return nil, fmt.Errorf("%w: invalid payment signature", ErrVerificationFailed)
		}
	}

	order, err := gateway.FetchOrder(ctx, claim.OrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	if order.Status != OrderStatusPaid {
		v.log.Info("order not settled",
			zap.String("order_id", claim.OrderID),
			zap.String("status", order.Status),
		)
		return nil, fmt.Errorf("%w: order %s is %s", ErrVerificationFailed, claim.OrderID, order.Status)
	}

	currency := strings.ToUpper(order.Currency)
	return &models.VerifiedSettlement{
		PayerID:      claim.PayerID,
		SettlementID: claim.PaymentID,
		Amount:       FromMinorUnits(order.Amount, currency),
		Currency:     currency,
		VerifiedAt:   v.now().UTC(),
	}, nil
}

func (v *Verifier) verifyInternational(ctx context.Context, claim models.SettlementClaim) (*models.VerifiedSettlement, error) {
	if claim.PaymentIntentID == "" {
		return nil, fmt.Errorf("%w: paymentIntentId is required", ErrVerificationFailed)
	}
	gateway, ok := v.international.Get()
	if !ok {
		return nil, fmt.Errorf("%w: international gateway not configured", ErrVerificationFailed)
	}

	pi, err := gateway.RetrievePaymentIntent(ctx, claim.PaymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	if pi.Status != IntentStatusSucceeded {
		v.log.Info("payment intent not settled",
			zap.String("payment_intent_id", claim.PaymentIntentID),
			zap.String("status", pi.Status),
		)
		return nil, fmt.Errorf("%w: payment intent %s is %s", ErrVerificationFailed, claim.PaymentIntentID, pi.Status)
	}

	currency := strings.ToUpper(pi.Currency)
	return &models.VerifiedSettlement{
		PayerID:      claim.PayerID,
		SettlementID: pi.ID,
		Amount:       FromMinorUnits(pi.Amount, currency),
		Currency:     currency,
		VerifiedAt:   v.now().UTC(),
	}, nil
}
