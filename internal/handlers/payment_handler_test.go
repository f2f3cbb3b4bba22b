package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medisync/telemed-platform/payment-service/internal/gateway"
	"github.com/medisync/telemed-platform/payment-service/internal/interfaces"
	"github.com/medisync/telemed-platform/payment-service/internal/models"
	"github.com/medisync/telemed-platform/payment-service/internal/service"
	"github.com/medisync/telemed-platform/payment-service/internal/signature"
	"github.com/medisync/telemed-platform/payment-service/internal/telemetry"
)

const (
	testKeySecret     = "key_secret_test"
	testWebhookSecret = "whsec_test"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	telemetry.Logger = zap.NewNop()
	os.Exit(m.Run())
}

// fakeStore is the minimal PaymentStore + BookingStore the handler tests need.
type fakeStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*models.Payment
	byOrder  map[string]uuid.UUID
	events   map[string]uuid.UUID
	bookings map[models.BookingRef]*models.Booking
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		payments: make(map[uuid.UUID]*models.Payment),
		byOrder:  make(map[string]uuid.UUID),
		events:   make(map[string]uuid.UUID),
		bookings: make(map[models.BookingRef]*models.Booking),
	}
}

func (s *fakeStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.payments[p.ID] = &cp
	s.byOrder[p.GatewayOrderID] = p.ID
	return nil
}

func (s *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, models.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) GetByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byOrder[orderID]
	if !ok {
		return nil, models.ErrPaymentNotFound
	}
	cp := *s.payments[id]
	return &cp, nil
}

func (s *fakeStore) GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.GatewayPaymentID.String == gatewayPaymentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, models.ErrPaymentNotFound
}

func (s *fakeStore) EventProcessed(ctx context.Context, gatewayEventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[gatewayEventID]
	return ok, nil
}

func (s *fakeStore) WithinTx(ctx context.Context, fn func(tx interfaces.PaymentTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&fakeTx{store: s})
}

func (s *fakeStore) GetBooking(ctx context.Context, ref models.BookingRef) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[ref]
	if !ok {
		return nil, models.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

type fakeTx struct{ store *fakeStore }

func (t *fakeTx) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	p, ok := t.store.payments[id]
	if !ok {
		return nil, models.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (t *fakeTx) UpdatePayment(ctx context.Context, p *models.Payment) error {
	cp := *p
	t.store.payments[p.ID] = &cp
	return nil
}

func (t *fakeTx) MarkBookingPaid(ctx context.Context, ref models.BookingRef) error {
	b, ok := t.store.bookings[ref]
	if !ok {
		return models.ErrBookingNotFound
	}
	b.Paid = true
	return nil
}

func (t *fakeTx) InsertProcessedEvent(ctx context.Context, gatewayEventID string, paymentID uuid.UUID) error {
	t.store.events[gatewayEventID] = paymentID
	return nil
}

type noopLocker struct{}

func (noopLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (noopLocker) Release(ctx context.Context, key string) error { return nil }

type noopNotifier struct{}

func (noopNotifier) PaymentStateChanged(context.Context, *models.Payment, models.PaymentStatus) {}
func (noopNotifier) PaymentCaptured(context.Context, models.BookingRef)                         {}
func (noopNotifier) PaymentFailed(context.Context, models.BookingRef, string)                   {}
func (noopNotifier) PaymentRefunded(context.Context, models.BookingRef, string)                 {}

type stubGateway struct {
	orderErr  error
	refundErr error
}

func (g *stubGateway) KeyID() string { return "key_test" }

func (g *stubGateway) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*models.GatewayOrder, error) {
	if g.orderErr != nil {
		return nil, g.orderErr
	}
	return &models.GatewayOrder{ID: "order_" + receipt[:8], Currency: currency, Status: "created"}, nil
}

func (g *stubGateway) CreateRefund(ctx context.Context, gatewayPaymentID string, amount decimal.Decimal, reason string) (*models.GatewayRefund, error) {
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &models.GatewayRefund{ID: "rfnd_1", PaymentID: gatewayPaymentID, Status: "processed"}, nil
}

type env struct {
	store  *fakeStore
	gw     *stubGateway
	router *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := newFakeStore()
	gw := &stubGateway{}

	sm := service.NewStateMachine(store, noopLocker{}, noopNotifier{})
	handler := NewPaymentHandler(
		service.NewOrderManager(store, store, gw),
		service.NewVerifier(store, sm, testKeySecret),
		service.NewWebhookProcessor(store, sm, testWebhookSecret),
		service.NewRefundProcessor(store, gw, sm),
		store,
	)

	// same routes the api package registers, without its tracing middleware
	r := gin.New()
	r.POST("/payments/order", handler.CreateOrder)
	r.POST("/payments/verify", handler.Verify)
	r.POST("/payments/webhook", handler.Webhook)
	r.POST("/payments/:id/refund", handler.Refund)
	r.GET("/payments/:id", handler.GetPayment)
	r.GET("/payments/order/:orderID", handler.GetPaymentByOrder)

	return &env{store: store, gw: gw, router: r}
}

func (e *env) seedPayment(t *testing.T, status models.PaymentStatus) *models.Payment {
	t.Helper()
	ref := models.BookingRef{Kind: models.BookingLabTest, ID: 3}
	e.store.bookings[ref] = &models.Booking{Ref: ref, Amount: decimal.NewFromInt(500), Currency: "INR"}

	p := &models.Payment{
		ID:             uuid.New(),
		GatewayOrderID: "order_seed",
		Amount:         decimal.NewFromInt(500),
		Currency:       "INR",
		Status:         status,
		Booking:        ref,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, e.store.CreatePayment(context.Background(), p))
	return p
}

func (e *env) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestCreateOrderEndpoint(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		e := newEnv(t)
		ref := models.BookingRef{Kind: models.BookingAppointment, ID: 9}
		e.store.bookings[ref] = &models.Booking{Ref: ref, Amount: decimal.NewFromInt(750), Currency: "INR"}

		w := e.do(t, http.MethodPost, "/payments/order", map[string]any{
			"booking_kind": "APPOINTMENT",
			"booking_id":   9,
			"amount":       "750",
			"currency":     "INR",
			"email":        "patient@example.com",
		}, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp createOrderResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.GatewayOrderID)
		require.Equal(t, "key_test", resp.KeyID)
	})

	t.Run("gateway down", func(t *testing.T) {
		e := newEnv(t)
		e.gw.orderErr = gateway.ErrUnavailable
		ref := models.BookingRef{Kind: models.BookingAppointment, ID: 9}
		e.store.bookings[ref] = &models.Booking{Ref: ref, Amount: decimal.NewFromInt(750), Currency: "INR"}

		w := e.do(t, http.MethodPost, "/payments/order", map[string]any{
			"booking_kind": "APPOINTMENT",
			"booking_id":   9,
			"amount":       "750",
		}, nil)
		require.Equal(t, http.StatusBadGateway, w.Code)
		require.Empty(t, e.store.payments)
	})

	t.Run("already paid", func(t *testing.T) {
		e := newEnv(t)
		ref := models.BookingRef{Kind: models.BookingAppointment, ID: 9}
		e.store.bookings[ref] = &models.Booking{Ref: ref, Amount: decimal.NewFromInt(750), Currency: "INR", Paid: true}

		w := e.do(t, http.MethodPost, "/payments/order", map[string]any{
			"booking_kind": "APPOINTMENT",
			"booking_id":   9,
			"amount":       "750",
		}, nil)
		require.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestVerifyEndpoint(t *testing.T) {
	t.Run("signature mismatch", func(t *testing.T) {
		e := newEnv(t)
		e.seedPayment(t, models.StatusCreated)

		w := e.do(t, http.MethodPost, "/payments/verify", map[string]any{
			"gateway_order_id":   "order_seed",
			"gateway_payment_id": "pay_1",
			"signature":          "deadbeef",
		}, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("capture", func(t *testing.T) {
		e := newEnv(t)
		p := e.seedPayment(t, models.StatusCreated)
		sig := signature.Sign([]byte("order_seed|pay_1"), testKeySecret)

		w := e.do(t, http.MethodPost, "/payments/verify", map[string]any{
			"gateway_order_id":   "order_seed",
			"gateway_payment_id": "pay_1",
			"signature":          sig,
		}, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp paymentResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, models.StatusCaptured, resp.Status)

		booking, err := e.store.GetBooking(context.Background(), p.Booking)
		require.NoError(t, err)
		require.True(t, booking.Paid)
	})
}

func TestWebhookEndpoint(t *testing.T) {
	body := []byte(`{"id":"evt_1","event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_seed"}}}}`)

	t.Run("invalid signature rejected", func(t *testing.T) {
		e := newEnv(t)
		e.seedPayment(t, models.StatusCreated)

		w := e.do(t, http.MethodPost, "/payments/webhook", body,
			map[string]string{SignatureHeader: "deadbeef"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("valid delivery and redelivery both succeed", func(t *testing.T) {
		e := newEnv(t)
		p := e.seedPayment(t, models.StatusCreated)
		sig := signature.Sign(body, testWebhookSecret)

		w := e.do(t, http.MethodPost, "/payments/webhook", body, map[string]string{SignatureHeader: sig})
		require.Equal(t, http.StatusOK, w.Code)

		w = e.do(t, http.MethodPost, "/payments/webhook", body, map[string]string{SignatureHeader: sig})
		require.Equal(t, http.StatusOK, w.Code)

		after, err := e.store.GetByID(context.Background(), p.ID)
		require.NoError(t, err)
		require.Equal(t, models.StatusCaptured, after.Status)
	})
}

func TestRefundEndpoint(t *testing.T) {
	t.Run("not captured returns conflict", func(t *testing.T) {
		e := newEnv(t)
		p := e.seedPayment(t, models.StatusCreated)

		w := e.do(t, http.MethodPost, "/payments/"+p.ID.String()+"/refund",
			map[string]any{"reason": "test"}, nil)
		require.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("captured payment refunds", func(t *testing.T) {
		e := newEnv(t)
		p := e.seedPayment(t, models.StatusCaptured)
		e.store.payments[p.ID].GatewayPaymentID.String = "pay_1"
		e.store.payments[p.ID].GatewayPaymentID.Valid = true
		e.store.bookings[p.Booking].Paid = true

		w := e.do(t, http.MethodPost, "/payments/"+p.ID.String()+"/refund",
			map[string]any{"reason": "doctor cancelled"}, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp paymentResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, models.StatusRefunded, resp.Status)
	})
}

func TestStatusEndpoints(t *testing.T) {
	e := newEnv(t)
	p := e.seedPayment(t, models.StatusCaptured)

	w := e.do(t, http.MethodGet, "/payments/"+p.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/payments/order/order_seed", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp paymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, p.ID.String(), resp.PaymentID)
	require.Equal(t, models.StatusCaptured, resp.Status)

	w = e.do(t, http.MethodGet, "/payments/order/order_missing", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
