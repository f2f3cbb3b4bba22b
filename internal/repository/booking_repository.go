package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/medisync/telemed-platform/payment-service/internal/models"
)

// BookingRepository reads the booking rows the rest of the platform writes.
// Only the columns this service consults are declared here.
type BookingRepository struct {
	db *sql.DB
}

func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS appointments (
			id BIGINT PRIMARY KEY,
			amount NUMERIC(12,2) NOT NULL,
			currency VARCHAR(3) NOT NULL DEFAULT 'INR',
			paid BOOLEAN NOT NULL DEFAULT FALSE,
			paid_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS lab_test_bookings (
			id BIGINT PRIMARY KEY,
			amount NUMERIC(12,2) NOT NULL,
			currency VARCHAR(3) NOT NULL DEFAULT 'INR',
			paid BOOLEAN NOT NULL DEFAULT FALSE,
			paid_at TIMESTAMPTZ
		)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func bookingTable(kind models.BookingKind) (string, error) {
	switch kind {
	case models.BookingAppointment:
		return "appointments", nil
	case models.BookingLabTest:
		return "lab_test_bookings", nil
	}
	return "", fmt.Errorf("unknown booking kind %q", kind)
}

func (r *BookingRepository) GetBooking(ctx context.Context, ref models.BookingRef) (*models.Booking, error) {
	table, err := bookingTable(ref.Kind)
	if err != nil {
		return nil, err
	}

	b := models.Booking{Ref: ref}
	var paidAt sql.NullTime
	err = r.db.QueryRowContext(ctx,
		`SELECT amount, currency, paid, paid_at FROM `+table+` WHERE id = $1`,
		ref.ID).Scan(&b.Amount, &b.Currency, &b.Paid, &paidAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	if paidAt.Valid {
		b.PaidAt = &paidAt.Time
	}
	return &b, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// markBookingPaid flips the paid flag inside the caller's transaction. The
// flag never reverts automatically; refunds are surfaced as notifications.
func markBookingPaid(ctx context.Context, q execer, ref models.BookingRef) error {
	table, err := bookingTable(ref.Kind)
	if err != nil {
		return err
	}

	result, err := q.ExecContext(ctx,
		`UPDATE `+table+` SET paid = TRUE, paid_at = NOW() WHERE id = $1`, ref.ID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrBookingNotFound
	}
	return nil
}
