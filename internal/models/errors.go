package models

import (
	"errors"
	"fmt"
)

var (
	// ErrSignatureInvalid covers malformed and wrong signatures alike;
	// callers must not distinguish the two.
	ErrSignatureInvalid = errors.New("signature invalid")

	ErrPaymentNotFound    = errors.New("payment not found")
	ErrBookingNotFound    = errors.New("booking not found")
	ErrBookingAlreadyPaid = errors.New("booking already paid")
	ErrDuplicateOrder     = errors.New("gateway order already recorded")
	ErrAmountMismatch     = errors.New("amount does not match booking amount")

	// ErrBookingUpdateFailed means the capture transition was rolled back
	// because the booking row could not be marked paid. Money moved at the
	// gateway but local state did not; this needs operator attention.
	ErrBookingUpdateFailed = errors.New("booking update failed")
)

// TransitionError reports an illegal state-machine move. The stored row is
// untouched when this is returned.
type TransitionError struct {
	PaymentID string
	From      PaymentStatus
	To        PaymentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s for payment %s", e.From, e.To, e.PaymentID)
}

// IsIllegalTransition reports whether err is a TransitionError.
func IsIllegalTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
