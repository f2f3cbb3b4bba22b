package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/medisync/telemed-platform/payment-service/internal/interfaces"
	"github.com/medisync/telemed-platform/payment-service/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS payments (
			id UUID PRIMARY KEY,
			gateway_order_id VARCHAR(64) NOT NULL UNIQUE,
			gateway_payment_id VARCHAR(64) UNIQUE,
			amount NUMERIC(12,2) NOT NULL CHECK (amount > 0),
			currency VARCHAR(3) NOT NULL,
			status VARCHAR(20) NOT NULL,
			method VARCHAR(32),
			card_last4 VARCHAR(4),
			card_network VARCHAR(20),
			email VARCHAR(255),
			phone VARCHAR(20),
			booking_kind VARCHAR(16) NOT NULL,
			appointment_id BIGINT,
			lab_test_booking_id BIGINT,
			error_message TEXT,
			refund_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ,
			refunded_at TIMESTAMPTZ,
			CHECK (
				(booking_kind = 'APPOINTMENT' AND appointment_id IS NOT NULL AND lab_test_booking_id IS NULL) OR
				(booking_kind = 'LAB_TEST' AND lab_test_booking_id IS NOT NULL AND appointment_id IS NULL)
			)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)`,
		`CREATE TABLE IF NOT EXISTS processed_webhook_events (
			gateway_event_id VARCHAR(64) PRIMARY KEY,
			payment_id UUID NOT NULL REFERENCES payments(id),
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

const paymentColumns = `id, gateway_order_id, gateway_payment_id, amount, currency, status,
	method, card_last4, card_network, email, phone,
	booking_kind, appointment_id, lab_test_booking_id,
	error_message, refund_reason, created_at, completed_at, refunded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p                          models.Payment
		method, last4, network     sql.NullString
		email, phone               sql.NullString
		appointmentID, labTestID   sql.NullInt64
		errorMessage, refundReason sql.NullString
		completedAt, refundedAt    sql.NullTime
	)

	err := row.Scan(
		&p.ID, &p.GatewayOrderID, &p.GatewayPaymentID, &p.Amount, &p.Currency, &p.Status,
		&method, &last4, &network, &email, &phone,
		&p.Booking.Kind, &appointmentID, &labTestID,
		&errorMessage, &refundReason, &p.CreatedAt, &completedAt, &refundedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Method = method.String
	p.CardLast4 = last4.String
	p.CardNetwork = network.String
	p.Email = email.String
	p.Phone = phone.String
	p.ErrorMessage = errorMessage.String
	p.RefundReason = refundReason.String
	switch p.Booking.Kind {
	case models.BookingAppointment:
		p.Booking.ID = appointmentID.Int64
	case models.BookingLabTest:
		p.Booking.ID = labTestID.Int64
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	if refundedAt.Valid {
		p.RefundedAt = &refundedAt.Time
	}
	return &p, nil
}

func bookingColumns(ref models.BookingRef) (appointmentID, labTestID sql.NullInt64, err error) {
	switch ref.Kind {
	case models.BookingAppointment:
		appointmentID = sql.NullInt64{Int64: ref.ID, Valid: true}
	case models.BookingLabTest:
		labTestID = sql.NullInt64{Int64: ref.ID, Valid: true}
	default:
		err = fmt.Errorf("unknown booking kind %q", ref.Kind)
	}
	return
}

func (r *PaymentRepository) CreatePayment(ctx context.Context, p *models.Payment) error {
	appointmentID, labTestID, err := bookingColumns(p.Booking)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO payments (id, gateway_order_id, amount, currency, status,
			email, phone, booking_kind, appointment_id, lab_test_booking_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.GatewayOrderID, p.Amount, p.Currency, p.Status,
		nullString(p.Email), nullString(p.Phone), p.Booking.Kind, appointmentID, labTestID, p.CreatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return models.ErrDuplicateOrder
	}
	return err
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (r *PaymentRepository) GetByOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id = $1`, gatewayOrderID)
	return scanPayment(row)
}

func (r *PaymentRepository) GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway_payment_id = $1`, gatewayPaymentID)
	return scanPayment(row)
}

func (r *PaymentRepository) EventProcessed(ctx context.Context, gatewayEventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_webhook_events WHERE gateway_event_id = $1)`,
		gatewayEventID).Scan(&exists)
	return exists, err
}

// WithinTx runs fn inside a single database transaction; the payment row
// update, the booking paid flag and the processed-event record commit or roll
// back together.
func (r *PaymentRepository) WithinTx(ctx context.Context, fn func(tx interfaces.PaymentTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&paymentTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type paymentTx struct {
	tx *sql.Tx
}

func (t *paymentTx) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
	return scanPayment(row)
}

func (t *paymentTx) UpdatePayment(ctx context.Context, p *models.Payment) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE payments
		SET gateway_payment_id = $1, status = $2, method = $3, card_last4 = $4,
			card_network = $5, error_message = $6, refund_reason = $7,
			completed_at = $8, refunded_at = $9
		WHERE id = $10
	`, p.GatewayPaymentID, p.Status, nullString(p.Method), nullString(p.CardLast4),
		nullString(p.CardNetwork), nullString(p.ErrorMessage), nullString(p.RefundReason),
		p.CompletedAt, p.RefundedAt, p.ID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrPaymentNotFound
	}
	return nil
}

func (t *paymentTx) MarkBookingPaid(ctx context.Context, ref models.BookingRef) error {
	return markBookingPaid(ctx, t.tx, ref)
}

func (t *paymentTx) InsertProcessedEvent(ctx context.Context, gatewayEventID string, paymentID uuid.UUID) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO processed_webhook_events (gateway_event_id, payment_id)
		VALUES ($1, $2)
		ON CONFLICT (gateway_event_id) DO NOTHING
	`, gatewayEventID, paymentID)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
