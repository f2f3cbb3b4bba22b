package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/medisync/telemed-platform/payment-service/internal/interfaces"
	"github.com/medisync/telemed-platform/payment-service/internal/metrics"
	"github.com/medisync/telemed-platform/payment-service/internal/models"
	"github.com/medisync/telemed-platform/payment-service/internal/telemetry"
)

// OrderManager creates gateway orders for unpaid bookings. The gateway call
// happens before anything is persisted, so a gateway failure leaves no
// orphaned CREATED row behind.
type OrderManager struct {
	store    interfaces.PaymentStore
	bookings interfaces.BookingStore
	gateway  interfaces.GatewayClient
}

func NewOrderManager(
	store interfaces.PaymentStore,
	bookings interfaces.BookingStore,
	gateway interfaces.GatewayClient,
) *OrderManager {
	return &OrderManager{
		store:    store,
		bookings: bookings,
		gateway:  gateway,
	}
}

// PayerContact holds receipt contact details; it is stored, never verified.
type PayerContact struct {
	Email string
	Phone string
}

// OrderResult is what the client needs to open checkout.
type OrderResult struct {
	PaymentID      uuid.UUID
	GatewayOrderID string
	KeyID          string
	Amount         decimal.Decimal
	Currency       string
}

// CreateOrder validates the booking, registers the remote order and persists
// the CREATED payment row. The requested amount must match what the platform
// says the booking costs.
func (m *OrderManager) CreateOrder(ctx context.Context, ref models.BookingRef, amount decimal.Decimal, currency string, contact PayerContact) (*OrderResult, error) {
	if !amount.IsPositive() {
		return nil, models.ErrAmountMismatch
	}

	booking, err := m.bookings.GetBooking(ctx, ref)
	if err != nil {
		return nil, err
	}
	if booking.Paid {
		return nil, models.ErrBookingAlreadyPaid
	}
	if !amount.Equal(booking.Amount) {
		return nil, models.ErrAmountMismatch
	}
	if currency == "" {
		currency = booking.Currency
	}

	paymentID := uuid.New()
	order, err := m.gateway.CreateOrder(ctx, amount, currency, paymentID.String())
	if err != nil {
		metrics.GatewayErrors.WithLabelValues("create_order").Inc()
		return nil, err
	}

	payment := &models.Payment{
		ID:             paymentID,
		GatewayOrderID: order.ID,
		Amount:         amount,
		Currency:       currency,
		Status:         models.StatusCreated,
		Email:          contact.Email,
		Phone:          contact.Phone,
		Booking:        ref,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.store.CreatePayment(ctx, payment); err != nil {
		// The remote order exists but no local row does; the order simply
		// expires unpaid at the gateway.
		if !errors.Is(err, models.ErrDuplicateOrder) {
			telemetry.Logger.Error("Order persisted at gateway but not locally",
				zap.String("gateway_order_id", order.ID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	telemetry.Logger.Info("Payment order created",
		zap.String("payment_id", paymentID.String()),
		zap.String("gateway_order_id", order.ID),
		zap.String("booking_kind", string(ref.Kind)),
		zap.Int64("booking_id", ref.ID),
	)

	return &OrderResult{
		PaymentID:      paymentID,
		GatewayOrderID: order.ID,
		KeyID:          m.gateway.KeyID(),
		Amount:         amount,
		Currency:       currency,
	}, nil
}
