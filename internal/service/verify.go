package service

import (
	"context"

	"github.com/medisync/telemed-platform/payment-service/internal/interfaces"
	"github.com/medisync/telemed-platform/payment-service/internal/metrics"
	"github.com/medisync/telemed-platform/payment-service/internal/models"
	"github.com/medisync/telemed-platform/payment-service/internal/signature"
	"github.com/medisync/telemed-platform/payment-service/internal/telemetry"
)

// Verifier is the synchronous counterpart of the webhook processor, invoked
// by the client right after checkout. It converges on the same ApplyEvent
// path, so racing the webhook is safe: first caller wins, second no-ops.
type Verifier struct {
	store     interfaces.PaymentStore
	sm        *StateMachine
	keySecret string
}

func NewVerifier(store interfaces.PaymentStore, sm *StateMachine, keySecret string) *Verifier {
	return &Verifier{
		store:     store,
		sm:        sm,
		keySecret: keySecret,
	}
}

// VerifyCheckout validates the checkout signature the gateway handed the
// client and drives the capture transition.
func (v *Verifier) VerifyCheckout(ctx context.Context, orderID, gatewayPaymentID, sig string) (*models.Payment, error) {
	if !signature.VerifyCheckout(orderID, gatewayPaymentID, sig, v.keySecret) {
		metrics.SignatureFailures.Inc()
		telemetry.Logger.Warn("Checkout signature rejected")
		return nil, models.ErrSignatureInvalid
	}

	payment, err := v.store.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return v.sm.ApplyEvent(ctx, payment.ID, models.PaymentEvent{
		Kind:             models.EventCaptured,
		GatewayPaymentID: gatewayPaymentID,
	})
}
