package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/medisync/telemed-platform/payment-service/internal/models"
	"github.com/medisync/telemed-platform/payment-service/internal/signature"
)

const keySecret = "key_secret_test"

func TestVerifyCheckout(t *testing.T) {
	t.Run("valid signature captures", func(t *testing.T) {
		h := newHarness(t)
		p := h.seedPayment(t, models.StatusCreated)

		v := NewVerifier(h.store, h.sm, keySecret)
		sig := signature.Sign([]byte(p.GatewayOrderID+"|pay_1"), keySecret)

		got, err := v.VerifyCheckout(context.Background(), p.GatewayOrderID, "pay_1", sig)
		require.NoError(t, err)
		require.Equal(t, models.StatusCaptured, got.Status)
		require.Equal(t, "pay_1", got.GatewayPaymentID.String)

		booking, err := h.store.GetBooking(context.Background(), p.Booking)
		require.NoError(t, err)
		require.True(t, booking.Paid)
	})

	t.Run("bad signature rejected before any lookup", func(t *testing.T) {
		h := newHarness(t)
		p := h.seedPayment(t, models.StatusCreated)

		v := NewVerifier(h.store, h.sm, keySecret)
		_, err := v.VerifyCheckout(context.Background(), p.GatewayOrderID, "pay_1", "deadbeef")
		require.ErrorIs(t, err, models.ErrSignatureInvalid)

		after, err := h.store.GetByID(context.Background(), p.ID)
		require.NoError(t, err)
		require.Equal(t, models.StatusCreated, after.Status)
	})

	t.Run("unknown order", func(t *testing.T) {
		h := newHarness(t)
		v := NewVerifier(h.store, h.sm, keySecret)
		sig := signature.Sign([]byte("order_missing|pay_1"), keySecret)
		_, err := v.VerifyCheckout(context.Background(), "order_missing", "pay_1", sig)
		require.ErrorIs(t, err, models.ErrPaymentNotFound)
	})
}

// The browser callback and the gateway webhook race on the same payment;
// both paths must converge on exactly one capture.
func TestVerifyRacesWebhook(t *testing.T) {
	h := newHarness(t)
	p := h.seedPayment(t, models.StatusCreated)

	v := NewVerifier(h.store, h.sm, keySecret)
	w := NewWebhookProcessor(h.store, h.sm, webhookSecret)

	checkoutSig := signature.Sign([]byte(p.GatewayOrderID+"|pay_1"), keySecret)
	webhookBody := capturedWebhook("evt_1", p.GatewayOrderID, "pay_1")
	webhookSig := signature.Sign(webhookBody, webhookSecret)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := v.VerifyCheckout(context.Background(), p.GatewayOrderID, "pay_1", checkoutSig)
		errCh <- err
	}()
	go func() {
		defer wg.Done()
		_, err := w.Handle(context.Background(), webhookBody, webhookSig)
		errCh <- err
	}()
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	after, err := h.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCaptured, after.Status)
	require.Equal(t, 1, h.store.bookingPaidCalls)
	require.Len(t, h.notifier.captured, 1)
}
