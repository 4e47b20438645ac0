// Package ticket is the catalog side of the pipeline: ticket types with
// a price and a stock counter, and the stock reservation primitive the
// order workers run against them.
package ticket

// TicketType is a sellable ticket kind. Stock is mutated only by
// reservations (decrement) and explicit restock/seeding.
type TicketType struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"type"`
	Description string  `json:"description"`
	UnitPrice   float64 `json:"price"`
	Currency    string  `json:"currency"`
	Stock       int32   `json:"stock"`
}

// Filter narrows a catalog listing. Nil price bounds are open.
type Filter struct {
	Category string
	MinPrice *float64
	MaxPrice *float64
}

// Reservation is one order item's claim against a ticket type.
type Reservation struct {
	TicketTypeID string
	Quantity     int32
}
