package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/medisync/telemed-platform/payment-service/internal/interfaces"
	"github.com/medisync/telemed-platform/payment-service/internal/metrics"
	"github.com/medisync/telemed-platform/payment-service/internal/models"
	"github.com/medisync/telemed-platform/payment-service/internal/signature"
	"github.com/medisync/telemed-platform/payment-service/internal/telemetry"
)

// WebhookProcessor consumes asynchronous gateway notifications. Deliveries
// are at-least-once and can arrive late, duplicated or out of order; every
// authentic delivery is acknowledged, and only the first application of an
// event id mutates anything.
type WebhookProcessor struct {
	store  interfaces.PaymentStore
	sm     *StateMachine
	secret string
}

func NewWebhookProcessor(store interfaces.PaymentStore, sm *StateMachine, webhookSecret string) *WebhookProcessor {
	return &WebhookProcessor{
		store:  store,
		sm:     sm,
		secret: webhookSecret,
	}
}

// Handle verifies, deduplicates and applies one raw webhook delivery.
// ErrSignatureInvalid is the only error the HTTP layer rejects with 400.
func (w *WebhookProcessor) Handle(ctx context.Context, raw []byte, sigHeader string) (*models.Payment, error) {
	if !signature.Verify(raw, sigHeader, w.secret) {
		metrics.SignatureFailures.Inc()
		telemetry.Logger.Warn("Webhook signature rejected")
		return nil, models.ErrSignatureInvalid
	}

	env, err := models.ParseWebhook(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}

	if env.ID != "" {
		processed, err := w.store.EventProcessed(ctx, env.ID)
		if err != nil {
			return nil, err
		}
		if processed {
			metrics.WebhooksProcessed.WithLabelValues("duplicate").Inc()
			telemetry.Logger.Info("Webhook event already processed",
				zap.String("gateway_event_id", env.ID),
			)
			return nil, nil
		}
	}

	payment, err := w.resolvePayment(ctx, env)
	if err != nil {
		return nil, err
	}

	kind, ok := models.KindForWebhook(env.Event)
	if !ok {
		metrics.WebhooksProcessed.WithLabelValues("ignored").Inc()
		telemetry.Logger.Warn("Webhook event kind not handled",
			zap.String("event", env.Event),
			zap.String("gateway_event_id", env.ID),
		)
		if env.ID != "" {
			if err := w.sm.RecordStaleEvent(ctx, env.ID, payment.ID); err != nil {
				return nil, err
			}
		}
		return payment, nil
	}

	event := models.PaymentEvent{
		Kind:           kind,
		GatewayEventID: env.ID,
	}
	switch kind {
	case models.EventRefundInitiated, models.EventRefunded:
		event.GatewayPaymentID = env.Payload.Refund.Entity.PaymentID
		event.RefundReason = env.Payload.Refund.Entity.Notes.Reason
	default:
		p := env.Payload.Payment.Entity
		event.GatewayPaymentID = p.ID
		event.ErrorMessage = p.ErrorDescription
		event.Method = p.Method
		event.CardLast4 = p.CardLast4
		event.CardNetwork = p.CardNetwork
	}

	result, err := w.sm.ApplyEvent(ctx, payment.ID, event)
	if models.IsIllegalTransition(err) {
		// Late or out-of-order delivery. The row is untouched; record the
		// event id so the gateway stops redelivering it.
		metrics.WebhooksProcessed.WithLabelValues("stale").Inc()
		telemetry.Logger.Warn("Stale webhook event",
			zap.String("gateway_event_id", env.ID),
			zap.String("event", env.Event),
			zap.Error(err),
		)
		if env.ID != "" {
			if err := w.sm.RecordStaleEvent(ctx, env.ID, payment.ID); err != nil {
				return nil, err
			}
		}
		return payment, nil
	}
	if err != nil {
		return nil, err
	}

	metrics.WebhooksProcessed.WithLabelValues("applied").Inc()
	return result, nil
}

// resolvePayment finds the local row the event refers to: payment events
// carry the gateway order id, refund events only the gateway payment id.
func (w *WebhookProcessor) resolvePayment(ctx context.Context, env *models.WebhookEnvelope) (*models.Payment, error) {
	if orderID := env.Payload.Payment.Entity.OrderID; orderID != "" {
		return w.store.GetByOrderID(ctx, orderID)
	}
	if paymentID := env.Payload.Payment.Entity.ID; paymentID != "" {
		return w.store.GetByGatewayPaymentID(ctx, paymentID)
	}
	if refundPaymentID := env.Payload.Refund.Entity.PaymentID; refundPaymentID != "" {
		return w.store.GetByGatewayPaymentID(ctx, refundPaymentID)
	}
	return nil, models.ErrPaymentNotFound
}
