// Package notify emits the service's outbound events: a kafka stream of
// committed state transitions, and NATS notifications consumed by the
// receipt/reporting collaborators. Both are fire-and-forget; payment
// correctness never depends on delivery.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/medisync/telemed-platform/payment-service/internal/models"
	"github.com/medisync/telemed-platform/payment-service/internal/telemetry"
)

const (
	SubjectCaptured = "payment.captured"
	SubjectFailed   = "payment.failed"
	SubjectRefunded = "payment.refunded"
)

type Publisher struct {
	kafkaWriter *kafka.Writer
	nc          *nats.Conn
}

func NewPublisher(kafkaWriter *kafka.Writer, nc *nats.Conn) *Publisher {
	return &Publisher{kafkaWriter: kafkaWriter, nc: nc}
}

type stateChangedEvent struct {
	PaymentID      string               `json:"payment_id"`
	GatewayOrderID string               `json:"gateway_order_id"`
	Status         models.PaymentStatus `json:"status"`
	PreviousStatus models.PaymentStatus `json:"previous_status"`
	Booking        models.BookingRef    `json:"booking"`
	Timestamp      time.Time            `json:"timestamp"`
}

// PaymentStateChanged publishes a committed transition to the
// payment.state.changed stream, keyed by payment id so per-payment order is
// preserved.
func (p *Publisher) PaymentStateChanged(ctx context.Context, payment *models.Payment, from models.PaymentStatus) {
	event := stateChangedEvent{
		PaymentID:      payment.ID.String(),
		GatewayOrderID: payment.GatewayOrderID,
		Status:         payment.Status,
		PreviousStatus: from,
		Booking:        payment.Booking,
		Timestamp:      time.Now().UTC(),
	}
	eventJSON, _ := json.Marshal(event)

	if err := p.kafkaWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.PaymentID),
		Value: eventJSON,
	}); err != nil {
		telemetry.Logger.Error("Failed to publish state change",
			zap.String("payment_id", event.PaymentID),
			zap.Error(err),
		)
	}
}

type bookingEvent struct {
	Booking models.BookingRef `json:"booking"`
	Reason  string            `json:"reason,omitempty"`
}

func (p *Publisher) PaymentCaptured(ctx context.Context, ref models.BookingRef) {
	p.publish(SubjectCaptured, bookingEvent{Booking: ref})
}

func (p *Publisher) PaymentFailed(ctx context.Context, ref models.BookingRef, reason string) {
	p.publish(SubjectFailed, bookingEvent{Booking: ref, Reason: reason})
}

func (p *Publisher) PaymentRefunded(ctx context.Context, ref models.BookingRef, reason string) {
	p.publish(SubjectRefunded, bookingEvent{Booking: ref, Reason: reason})
}

func (p *Publisher) publish(subject string, event bookingEvent) {
	eventJSON, _ := json.Marshal(event)
	if err := p.nc.Publish(subject, eventJSON); err != nil {
		telemetry.Logger.Error("Failed to publish notification",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
