package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medisync/telemed-platform/payment-service/internal/interfaces"
	"github.com/medisync/telemed-platform/payment-service/internal/metrics"
	"github.com/medisync/telemed-platform/payment-service/internal/models"
	"github.com/medisync/telemed-platform/payment-service/internal/telemetry"
)

// RefundProcessor initiates refunds for captured payments. A gateway failure
// leaves the payment at CAPTURED with nothing partial persisted.
type RefundProcessor struct {
	store   interfaces.PaymentStore
	gateway interfaces.GatewayClient
	sm      *StateMachine
}

func NewRefundProcessor(store interfaces.PaymentStore, gateway interfaces.GatewayClient, sm *StateMachine) *RefundProcessor {
	return &RefundProcessor{
		store:   store,
		gateway: gateway,
		sm:      sm,
	}
}

// Refund asks the gateway to return the full amount, then drives the refund
// transitions. Only CAPTURED payments qualify; the precondition is checked
// before any gateway call and again under the row lock.
func (r *RefundProcessor) Refund(ctx context.Context, paymentID uuid.UUID, reason string) (*models.Payment, error) {
	payment, err := r.store.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.StatusCaptured {
		return nil, &models.TransitionError{
			PaymentID: paymentID.String(),
			From:      payment.Status,
			To:        models.StatusRefundInitiated,
		}
	}

	refund, err := r.gateway.CreateRefund(ctx, payment.GatewayPaymentID.String, payment.Amount, reason)
	if err != nil {
		metrics.GatewayErrors.WithLabelValues("create_refund").Inc()
		return nil, err
	}

	telemetry.Logger.Info("Refund created at gateway",
		zap.String("payment_id", paymentID.String()),
		zap.String("gateway_refund_id", refund.ID),
		zap.String("gateway_refund_status", refund.Status),
	)

	payment, err = r.sm.ApplyEvent(ctx, paymentID, models.PaymentEvent{
		Kind:         models.EventRefundInitiated,
		RefundReason: reason,
	})
	if err != nil {
		return nil, err
	}

	// Some gateways settle the refund synchronously; otherwise the
	// refund.processed webhook completes it later.
	if refund.Status == "processed" {
		return r.sm.ApplyEvent(ctx, paymentID, models.PaymentEvent{
			Kind:         models.EventRefunded,
			RefundReason: reason,
		})
	}

	return payment, nil
}
