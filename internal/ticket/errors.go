package ticket

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a ticket type id does not exist.
var ErrNotFound = errors.New("ticket type not found")

// StockError is a reservation that cannot be satisfied. It is a business
// outcome, not an infrastructure failure: callers record it on the order
// and never retry it.
type StockError struct {
	TicketTypeID string
	Requested    int32
	Available    int32
	Missing      bool
}

func (e *StockError) Error() string {
	if e.Missing {
		return fmt.Sprintf("no stock record for ticket type %s", e.TicketTypeID)
	}
	return fmt.Sprintf("insufficient stock for ticket type %s: requested %d, available %d",
		e.TicketTypeID, e.Requested, e.Available)
}
