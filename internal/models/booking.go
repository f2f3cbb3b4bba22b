package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Booking is the read-side view of the appointment or lab-test booking a
// payment gates. The rest of the booking record belongs to other services.
type Booking struct {
	Ref      BookingRef      `json:"ref"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Paid     bool            `json:"paid"`
	PaidAt   *time.Time      `json:"paid_at,omitempty"`
}

// GatewayOrder is the remote order created at the gateway before checkout.
// Amount is in minor units (paise for INR).
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// GatewayRefund is the gateway's view of a refund request.
type GatewayRefund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}
