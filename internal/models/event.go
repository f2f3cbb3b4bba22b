package models

import "encoding/json"

// EventKind is the closed set of signals the state machine accepts. Webhook
// event-type strings are mapped onto this set once, at the edge; everything
// past that point switches exhaustively on EventKind.
type EventKind string

const (
	EventAuthorized      EventKind = "AUTHORIZED"
	EventCaptured        EventKind = "CAPTURED"
	EventFailed          EventKind = "FAILED"
	EventRefundInitiated EventKind = "REFUND_INITIATED"
	EventRefunded        EventKind = "REFUNDED"
)

// TargetStatus is the status a legal application of the event lands on.
func (k EventKind) TargetStatus() PaymentStatus {
	switch k {
	case EventAuthorized:
		return StatusAuthorized
	case EventCaptured:
		return StatusCaptured
	case EventFailed:
		return StatusFailed
	case EventRefundInitiated:
		return StatusRefundInitiated
	case EventRefunded:
		return StatusRefunded
	}
	return ""
}

// webhookKinds maps the gateway's event-type strings onto EventKind. Types
// absent here are authentic-but-uninteresting (acknowledged, never applied).
var webhookKinds = map[string]EventKind{
	"payment.authorized": EventAuthorized,
	"payment.captured":   EventCaptured,
	"order.paid":         EventCaptured,
	"payment.failed":     EventFailed,
	"refund.created":     EventRefundInitiated,
	"refund.processed":   EventRefunded,
}

// KindForWebhook resolves a gateway event-type string; ok is false for types
// outside the closed set.
func KindForWebhook(eventType string) (EventKind, bool) {
	k, ok := webhookKinds[eventType]
	return k, ok
}

// PaymentEvent is one verified signal to apply to a payment. GatewayEventID is
// empty on the synchronous client-verification path, set for webhooks.
type PaymentEvent struct {
	Kind             EventKind
	GatewayPaymentID string
	GatewayEventID   string
	ErrorMessage     string
	RefundReason     string
	Method           string
	CardLast4        string
	CardNetwork      string
}

// WebhookEnvelope is the gateway's webhook body. The entity payload carries
// either a payment or a refund depending on the event family.
type WebhookEnvelope struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity WebhookPayment `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity WebhookRefund `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

type WebhookPayment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	CardLast4        string `json:"last4"`
	CardNetwork      string `json:"network"`
	ErrorDescription string `json:"error_description"`
}

type WebhookRefund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Notes     struct {
		Reason string `json:"reason"`
	} `json:"notes"`
}

// ParseWebhook decodes a raw webhook body. Signature verification happens over
// the raw bytes before this is called.
func ParseWebhook(raw []byte) (*WebhookEnvelope, error) {
	var env WebhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
