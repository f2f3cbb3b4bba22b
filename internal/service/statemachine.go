package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medisync/telemed-platform/payment-service/internal/interfaces"
	"github.com/medisync/telemed-platform/payment-service/internal/metrics"
	"github.com/medisync/telemed-platform/payment-service/internal/models"
	"github.com/medisync/telemed-platform/payment-service/internal/telemetry"
)

const (
	lockTTL       = 30 * time.Second
	lockRetryWait = 50 * time.Millisecond
)

// StateMachine is the single authority over payment transitions. The webhook
// processor and the client-verification path both funnel into ApplyEvent, so
// whichever racer arrives second finds the work already done and no-ops.
type StateMachine struct {
	store    interfaces.PaymentStore
	locker   interfaces.Locker
	notifier interfaces.Notifier
}

func NewStateMachine(
	store interfaces.PaymentStore,
	locker interfaces.Locker,
	notifier interfaces.Notifier,
) *StateMachine {
	return &StateMachine{
		store:    store,
		locker:   locker,
		notifier: notifier,
	}
}

// ApplyEvent drives one verified signal through the transition table. The row
// is locked only around the local transition, never across gateway I/O. The
// payment update, the booking paid flag and the processed-event record share
// one transaction; re-applying the current status is a legal no-op.
func (m *StateMachine) ApplyEvent(ctx context.Context, paymentID uuid.UUID, event models.PaymentEvent) (*models.Payment, error) {
	target := event.Kind.TargetStatus()
	if target == "" {
		return nil, fmt.Errorf("unknown event kind %q", event.Kind)
	}

	unlock, err := m.acquireLock(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		applied bool
		from    models.PaymentStatus
		result  *models.Payment
	)

	err = m.store.WithinTx(ctx, func(tx interfaces.PaymentTx) error {
		p, err := tx.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		from = p.Status

		// Duplicate signal for the state we are already in: record the
		// event id so redelivery stays quiet, touch nothing else.
		if p.Status == target {
			result = p
			return m.recordEvent(ctx, tx, event, paymentID)
		}

		if !models.CanTransition(p.Status, target) {
			return &models.TransitionError{PaymentID: paymentID.String(), From: p.Status, To: target}
		}

		now := time.Now().UTC()
		p.Status = target
		if event.GatewayPaymentID != "" && !p.GatewayPaymentID.Valid {
			p.GatewayPaymentID = sql.NullString{String: event.GatewayPaymentID, Valid: true}
		}
		if event.Method != "" {
			p.Method = event.Method
		}
		if event.CardLast4 != "" {
			p.CardLast4 = event.CardLast4
		}
		if event.CardNetwork != "" {
			p.CardNetwork = event.CardNetwork
		}

		switch event.Kind {
		case models.EventAuthorized:
			// identifiers and method metadata above are the whole effect
		case models.EventCaptured:
			p.CompletedAt = &now
			if err := tx.MarkBookingPaid(ctx, p.Booking); err != nil {
				return fmt.Errorf("%w: %v", models.ErrBookingUpdateFailed, err)
			}
		case models.EventFailed:
			p.ErrorMessage = event.ErrorMessage
		case models.EventRefundInitiated:
			p.RefundReason = event.RefundReason
		case models.EventRefunded:
			p.RefundedAt = &now
			if event.RefundReason != "" {
				p.RefundReason = event.RefundReason
			}
		}

		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		if err := m.recordEvent(ctx, tx, event, paymentID); err != nil {
			return err
		}

		applied = true
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if applied {
		metrics.Transitions.WithLabelValues(string(target)).Inc()
		m.emit(ctx, result, from)

		telemetry.Logger.Info("Payment state transition",
			zap.String("payment_id", paymentID.String()),
			zap.String("from_status", string(from)),
			zap.String("to_status", string(target)),
		)
	}

	return result, nil
}

func (m *StateMachine) recordEvent(ctx context.Context, tx interfaces.PaymentTx, event models.PaymentEvent, paymentID uuid.UUID) error {
	if event.GatewayEventID == "" {
		return nil
	}
	return tx.InsertProcessedEvent(ctx, event.GatewayEventID, paymentID)
}

// RecordStaleEvent persists the idempotency record for an authentic event
// that can no longer be applied (late or out of order), so the gateway stops
// redelivering it.
func (m *StateMachine) RecordStaleEvent(ctx context.Context, gatewayEventID string, paymentID uuid.UUID) error {
	return m.store.WithinTx(ctx, func(tx interfaces.PaymentTx) error {
		return tx.InsertProcessedEvent(ctx, gatewayEventID, paymentID)
	})
}

func (m *StateMachine) emit(ctx context.Context, p *models.Payment, from models.PaymentStatus) {
	m.notifier.PaymentStateChanged(ctx, p, from)

	switch p.Status {
	case models.StatusCaptured:
		m.notifier.PaymentCaptured(ctx, p.Booking)
	case models.StatusFailed:
		m.notifier.PaymentFailed(ctx, p.Booking, p.ErrorMessage)
	case models.StatusRefunded:
		m.notifier.PaymentRefunded(ctx, p.Booking, p.RefundReason)
	}
}

// acquireLock takes the per-payment lease, waiting out a concurrent holder
// instead of failing, so the losing racer converges on a no-op rather than an
// error.
func (m *StateMachine) acquireLock(ctx context.Context, paymentID uuid.UUID) (func(), error) {
	key := "payment_lock:" + paymentID.String()
	deadline := time.Now().Add(lockTTL)

	for {
		ok, err := m.locker.Acquire(ctx, key, lockTTL)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { m.locker.Release(context.WithoutCancel(ctx), key) }, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("payment %s is already being processed", paymentID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryWait):
		}
	}
}
