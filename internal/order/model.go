// Package order holds the order document model, its PostgreSQL
// repository, and the producer that turns purchase requests into
// pending orders on the stream.
package order

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further status transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Item is a priced order line. UnitPrice and LineTotal are set once by
// the producer from the catalog and never change afterwards.
type Item struct {
	TicketTypeID string  `json:"ticketId"`
	Category     string  `json:"type,omitempty"`
	Quantity     int32   `json:"qty"`
	UnitPrice    float64 `json:"unitPrice"`
	LineTotal    float64 `json:"total"`
}

// Order is the document persisted for every purchase. Only Status,
// Message and FailureReason change after creation, exactly once, when a
// worker applies the terminal transition.
type Order struct {
	ID            string    `json:"orderId"`
	Customer      Customer  `json:"customer"`
	Items         []Item    `json:"items"`
	GrandTotal    float64   `json:"grandTotal"`
	Currency      string    `json:"currency"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	Message       string    `json:"message,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
}

// CreateOrderRequest is the inbound purchase request. Prices are never
// accepted from the caller.
type CreateOrderRequest struct {
	Customer Customer      `json:"customer"`
	Items    []RequestItem `json:"items"`
}

type RequestItem struct {
	TicketTypeID string `json:"ticketId"`
	Quantity     int32  `json:"qty"`
}
