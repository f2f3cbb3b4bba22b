package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	StatusCreated         PaymentStatus = "CREATED"
	StatusAuthorized      PaymentStatus = "AUTHORIZED"
	StatusCaptured        PaymentStatus = "CAPTURED"
	StatusFailed          PaymentStatus = "FAILED"
	StatusRefundInitiated PaymentStatus = "REFUND_INITIATED"
	StatusRefunded        PaymentStatus = "REFUNDED"
)

// allowedTransitions is the full legal-transition table. A capture signal can
// land while the row is still CREATED (client verify path, or the gateway never
// sent the authorized notification), and a refund confirmation can land on
// CAPTURED if the initiation record was lost, so forward skips are legal.
// Backward moves never are.
var allowedTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	StatusCreated: {
		StatusAuthorized: true,
		StatusCaptured:   true,
		StatusFailed:     true,
	},
	StatusAuthorized: {
		StatusCaptured: true,
		StatusFailed:   true,
	},
	StatusCaptured: {
		StatusRefundInitiated: true,
		StatusRefunded:        true,
	},
	StatusRefundInitiated: {
		StatusRefunded: true,
	},
	StatusFailed:   {},
	StatusRefunded: {},
}

// CanTransition reports whether from -> to is a legal move. from == to is not
// a transition; callers treat it as an idempotent no-op before consulting this.
func CanTransition(from, to PaymentStatus) bool {
	return allowedTransitions[from][to]
}

// Terminal reports whether no further transition can leave the status.
func (s PaymentStatus) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

type BookingKind string

const (
	BookingAppointment BookingKind = "APPOINTMENT"
	BookingLabTest     BookingKind = "LAB_TEST"
)

// BookingRef identifies the appointment or lab-test booking a payment gates.
type BookingRef struct {
	Kind BookingKind `json:"kind"`
	ID   int64       `json:"id"`
}

// Payment is one row per gateway order attempt. Rows are never deleted;
// status only moves forward through the transition table above.
type Payment struct {
	ID               uuid.UUID       `json:"id"`
	GatewayOrderID   string          `json:"gateway_order_id"`
	GatewayPaymentID sql.NullString  `json:"gateway_payment_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           PaymentStatus   `json:"status"`
	Method           string          `json:"method,omitempty"`
	CardLast4        string          `json:"card_last4,omitempty"`
	CardNetwork      string          `json:"card_network,omitempty"`
	Email            string          `json:"email,omitempty"`
	Phone            string          `json:"phone,omitempty"`
	Booking          BookingRef      `json:"booking"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	RefundReason     string          `json:"refund_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	RefundedAt       *time.Time      `json:"refunded_at,omitempty"`
}

// ProcessedWebhookEvent is the idempotency record for one gateway event id.
// Existence of a row means the event must not be re-applied.
type ProcessedWebhookEvent struct {
	GatewayEventID string    `json:"gateway_event_id"`
	PaymentID      uuid.UUID `json:"payment_id"`
	ProcessedAt    time.Time `json:"processed_at"`
}
