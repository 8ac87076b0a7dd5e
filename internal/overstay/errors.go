package overstay

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an unknown record or booking.
	ErrNotFound = errors.New("overstay: not found")
	// ErrValidation indicates malformed or out-of-range decision parameters.
	ErrValidation = errors.New("overstay: validation failed")
	// ErrInvalidState indicates an operation attempted from a status that
	// forbids it.
	ErrInvalidState = errors.New("overstay: invalid state")
	// ErrMissingPaymentMethod indicates no stored customer or payment
	// method at charge time.
	ErrMissingPaymentMethod = errors.New("overstay: missing payment method")
	// ErrPaymentProcessor indicates a failed charge attempt. The failure is
	// recorded on the record; a manager re-decides via ProcessDecision.
	ErrPaymentProcessor = errors.New("overstay: payment processor failure")
	// ErrChargeInFlight indicates a charge is already pending for the
	// current approval and no second charge may be created.
	ErrChargeInFlight = errors.New("overstay: charge already in flight")
)

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
}

func validationErr(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}
