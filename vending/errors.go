package vending

import (
	"errors"
	"fmt"
)

// Sentinel errors. Business-rule failures carry a stable machine code
// (see Code) and surface as 4xx at the HTTP boundary; persistence
// failures roll the active transaction back and surface as 5xx.
var (
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a state precondition was violated, e.g. booting
	// a distributor that already holds a live token.
	ErrConflict = errors.New("conflict")

	// ErrNoCustomerConnected means the distributor has no open
	// connection, so there is nobody to charge.
	ErrNoCustomerConnected = errors.New("no customer connected")

	// ErrOutOfStock means the conditional supply deduction matched zero
	// rows: some counter would have gone negative.
	ErrOutOfStock = errors.New("out of stock")

	// ErrInsufficientCredit means the conditional credit deduction
	// matched zero rows: credit < price.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrInvalidBeverage means the beverage is absent or inactive.
	ErrInvalidBeverage = errors.New("invalid beverage")

	// ErrInvalidPrice means the stored price is missing or not positive.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrUnauthorized means the caller's credential did not resolve to a
	// principal allowed to perform the operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMonitorUnreachable is internal to the monitor client; it is
	// never surfaced to end users, only reflected as empty data.
	ErrMonitorUnreachable = errors.New("monitor unreachable")
)

// PersistenceError wraps an unexpected store failure. The transaction
// it happened in has already been rolled back by the time it
// propagates.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError for store operation op.
func Persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// Code returns the stable machine-readable code for a business-rule
// failure, or "INTERNAL" for anything else.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNoCustomerConnected):
		return "NO_CUSTOMER_CONNECTED"
	case errors.Is(err, ErrOutOfStock):
		return "OUT_OF_STOCK"
	case errors.Is(err, ErrInsufficientCredit):
		return "INSUFFICIENT_CREDIT"
	case errors.Is(err, ErrInvalidBeverage):
		return "INVALID_BEVERAGE"
	case errors.Is(err, ErrInvalidPrice):
		return "INVALID_PRICE"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	default:
		return "INTERNAL"
	}
}

// IsBusinessError reports whether err is a legitimate business outcome
// rather than a fault. Callers must not retry these.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrNoCustomerConnected) ||
		errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrInvalidBeverage) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound)
}
