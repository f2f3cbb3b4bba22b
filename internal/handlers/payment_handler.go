package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/medisync/telemed-platform/payment-service/internal/gateway"
	"github.com/medisync/telemed-platform/payment-service/internal/interfaces"
	"github.com/medisync/telemed-platform/payment-service/internal/models"
	"github.com/medisync/telemed-platform/payment-service/internal/service"
	"github.com/medisync/telemed-platform/payment-service/internal/telemetry"
)

// SignatureHeader carries the gateway's webhook HMAC.
const SignatureHeader = "X-Gateway-Signature"

type PaymentHandler struct {
	orders   *service.OrderManager
	verifier *service.Verifier
	webhooks *service.WebhookProcessor
	refunds  *service.RefundProcessor
	store    interfaces.PaymentStore
}

func NewPaymentHandler(
	orders *service.OrderManager,
	verifier *service.Verifier,
	webhooks *service.WebhookProcessor,
	refunds *service.RefundProcessor,
	store interfaces.PaymentStore,
) *PaymentHandler {
	return &PaymentHandler{
		orders:   orders,
		verifier: verifier,
		webhooks: webhooks,
		refunds:  refunds,
		store:    store,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type createOrderRequest struct {
	BookingKind models.BookingKind `json:"booking_kind" binding:"required"`
	BookingID   int64              `json:"booking_id" binding:"required"`
	Amount      decimal.Decimal    `json:"amount" binding:"required"`
	Currency    string             `json:"currency"`
	Email       string             `json:"email"`
	Phone       string             `json:"phone"`
}

type createOrderResponse struct {
	PaymentID      string          `json:"payment_id"`
	GatewayOrderID string          `json:"gateway_order_id"`
	KeyID          string          `json:"key_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
}

type paymentResponse struct {
	PaymentID        string               `json:"payment_id"`
	GatewayOrderID   string               `json:"gateway_order_id"`
	GatewayPaymentID string               `json:"gateway_payment_id,omitempty"`
	Status           models.PaymentStatus `json:"status"`
	Amount           decimal.Decimal      `json:"amount"`
	Currency         string               `json:"currency"`
	Booking          models.BookingRef    `json:"booking"`
	ErrorMessage     string               `json:"error_message,omitempty"`
	RefundReason     string               `json:"refund_reason,omitempty"`
}

func toPaymentResponse(p *models.Payment) paymentResponse {
	return paymentResponse{
		PaymentID:        p.ID.String(),
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: p.GatewayPaymentID.String,
		Status:           p.Status,
		Amount:           p.Amount,
		Currency:         p.Currency,
		Booking:          p.Booking,
		ErrorMessage:     p.ErrorMessage,
		RefundReason:     p.RefundReason,
	}
}

// CreateOrder handles POST /payments/order.
func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.orders.CreateOrder(c.Request.Context(),
		models.BookingRef{Kind: req.BookingKind, ID: req.BookingID},
		req.Amount, req.Currency,
		service.PayerContact{Email: req.Email, Phone: req.Phone},
	)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, createOrderResponse{
		PaymentID:      result.PaymentID.String(),
		GatewayOrderID: result.GatewayOrderID,
		KeyID:          result.KeyID,
		Amount:         result.Amount,
		Currency:       result.Currency,
	})
}

type verifyRequest struct {
	GatewayOrderID   string `json:"gateway_order_id" binding:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" binding:"required"`
	Signature        string `json:"signature" binding:"required"`
}

// Verify handles POST /payments/verify, the client's post-checkout callback.
func (h *PaymentHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	payment, err := h.verifier.VerifyCheckout(c.Request.Context(),
		req.GatewayOrderID, req.GatewayPaymentID, req.Signature)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

type webhookResponse struct {
	Status string `json:"status"`
}

// Webhook handles POST /payments/webhook. Authentic deliveries always get
// 200, processed or not, so the gateway stops redelivering; only signature
// failures are rejected.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	_, err = h.webhooks.Handle(c.Request.Context(), raw, c.GetHeader(SignatureHeader))
	if errors.Is(err, models.ErrSignatureInvalid) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "signature mismatch"})
		return
	}
	if errors.Is(err, models.ErrPaymentNotFound) {
		// Authentic event for an order this service never created. Ack so
		// the gateway does not retry forever.
		telemetry.Logger.Warn("Webhook for unknown payment")
		c.JSON(http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}
	if err != nil {
		telemetry.Logger.Error("Webhook processing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "processing failed"})
		return
	}

	c.JSON(http.StatusOK, webhookResponse{Status: "ok"})
}

type refundRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Refund handles POST /payments/:id/refund.
func (h *PaymentHandler) Refund(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid payment id"})
		return
	}

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	payment, err := h.refunds.Refund(c.Request.Context(), paymentID, req.Reason)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

// GetPayment handles GET /payments/:id.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid payment id"})
		return
	}

	payment, err := h.store.GetByID(c.Request.Context(), paymentID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

// GetPaymentByOrder handles GET /payments/order/:orderID, the re-query path
// for clients that navigated away before the verify call completed.
func (h *PaymentHandler) GetPaymentByOrder(c *gin.Context) {
	payment, err := h.store.GetByOrderID(c.Request.Context(), c.Param("orderID"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

func (h *PaymentHandler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrSignatureInvalid):
		c.JSON(http.StatusBadRequest, errorResponse{Error: "signature mismatch"})
	case errors.Is(err, models.ErrPaymentNotFound), errors.Is(err, models.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrBookingAlreadyPaid), errors.Is(err, models.ErrDuplicateOrder):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrAmountMismatch):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case models.IsIllegalTransition(err):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, gateway.ErrUnavailable), errors.Is(err, gateway.ErrRejected):
		telemetry.Logger.Error("Gateway call failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, errorResponse{Error: "payment gateway unavailable"})
	case errors.Is(err, models.ErrBookingUpdateFailed):
		telemetry.Logger.Error("Booking update failed during capture", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "booking update failed"})
	default:
		telemetry.Logger.Error("Payment request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
