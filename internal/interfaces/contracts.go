package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medisync/telemed-platform/payment-service/internal/models"
)

// PaymentTx is the per-transaction surface the state machine drives. All four
// effects of a transition commit or roll back together.
type PaymentTx interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	UpdatePayment(ctx context.Context, p *models.Payment) error
	MarkBookingPaid(ctx context.Context, ref models.BookingRef) error
	InsertProcessedEvent(ctx context.Context, gatewayEventID string, paymentID uuid.UUID) error
}

// PaymentStore defines the contract for payment ledger data access.
type PaymentStore interface {
	WithinTx(ctx context.Context, fn func(tx PaymentTx) error) error
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error)
	GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error)
	EventProcessed(ctx context.Context, gatewayEventID string) (bool, error)
}

// BookingStore is the read-side booking contract consumed from the rest of
// the platform. The paid-flag write happens through PaymentTx so it shares
// the transition's transaction.
type BookingStore interface {
	GetBooking(ctx context.Context, ref models.BookingRef) (*models.Booking, error)
}

// GatewayClient talks to the external payment gateway.
type GatewayClient interface {
	KeyID() string
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*models.GatewayOrder, error)
	CreateRefund(ctx context.Context, gatewayPaymentID string, amount decimal.Decimal, reason string) (*models.GatewayRefund, error)
}

// Notifier emits outbound events. Delivery is fire-and-forget; failures are
// logged, never surfaced to the payment path.
type Notifier interface {
	PaymentStateChanged(ctx context.Context, p *models.Payment, from models.PaymentStatus)
	PaymentCaptured(ctx context.Context, ref models.BookingRef)
	PaymentFailed(ctx context.Context, ref models.BookingRef, reason string)
	PaymentRefunded(ctx context.Context, ref models.BookingRef, reason string)
}

// Locker serializes processing per payment id ahead of the row lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
