package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medisync/telemed-platform/payment-service/internal/handlers"
	"github.com/medisync/telemed-platform/payment-service/internal/telemetry"
)

func NewRouter(paymentHandler *handlers.PaymentHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "payment-service"})
	})

	// Payment routes
	r.POST("/payments/order", paymentHandler.CreateOrder)
	r.POST("/payments/verify", paymentHandler.Verify)
	r.POST("/payments/webhook", paymentHandler.Webhook)
	r.POST("/payments/:id/refund", paymentHandler.Refund)
	r.GET("/payments/:id", paymentHandler.GetPayment)
	r.GET("/payments/order/:orderID", paymentHandler.GetPaymentByOrder)

	return r
}
