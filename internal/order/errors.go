package order

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an order id does not exist.
var ErrNotFound = errors.New("order not found")

// ValidationError rejects a purchase request before any state is
// written. The serving layer maps it to a 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// UnknownTicketTypeError rejects a request referencing a ticket type id
// that is not in the catalog.
type UnknownTicketTypeError struct {
	TicketTypeID string
}

func (e *UnknownTicketTypeError) Error() string {
	return fmt.Sprintf("invalid ticketId: %s", e.TicketTypeID)
}
