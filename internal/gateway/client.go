// Package gateway is the REST client for the external payment gateway. The
// gateway holds the true ledger; this service only creates orders and refunds
// against it and reconciles its notifications.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/medisync/telemed-platform/payment-service/internal/models"
)

var (
	// ErrUnavailable covers network failures, timeouts and gateway 5xx.
	// Safe to retry the whole operation: nothing was persisted locally.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrRejected is a gateway 4xx; retrying the identical request will not help.
	ErrRejected = errors.New("gateway rejected request")
)

type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
}

// NewClient builds a gateway client around an injected *http.Client so the
// caller controls timeouts and transport reuse.
func NewClient(baseURL, keyID, keySecret string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		keyID:      keyID,
		keySecret:  keySecret,
		httpClient: httpClient,
	}
}

// KeyID is the public key the client needs to open checkout.
func (c *Client) KeyID() string {
	return c.keyID
}

type orderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// CreateOrder registers a remote order. amount is in major units; the gateway
// wants minor units (paise for INR).
func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*models.GatewayOrder, error) {
	req := orderRequest{
		Amount:   minorUnits(amount),
		Currency: currency,
		Receipt:  receipt,
	}

	var order models.GatewayOrder
	if err := c.post(ctx, "/v1/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

type refundRequest struct {
	Amount int64 `json:"amount"`
	Notes  struct {
		Reason string `json:"reason"`
	} `json:"notes"`
}

// CreateRefund asks the gateway to return funds for a captured payment.
func (c *Client) CreateRefund(ctx context.Context, gatewayPaymentID string, amount decimal.Decimal, reason string) (*models.GatewayRefund, error) {
	req := refundRequest{Amount: minorUnits(amount)}
	req.Notes.Reason = reason

	var refund models.GatewayRefund
	path := fmt.Sprintf("/v1/payments/%s/refund", gatewayPaymentID)
	if err := c.post(ctx, path, req, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, msg)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).IntPart()
}
