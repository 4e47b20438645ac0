// Package reservation applies an order's terminal transition: it claims
// stock for every item and writes the resulting status in one database
// transaction, so redelivered entries can never decrement stock twice.
package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ogozo/service-ticketing/internal/order"
	"github.com/ogozo/service-ticketing/internal/ticket"
)

// Outcome is the result of finalizing one order.
type Outcome struct {
	Status        order.Status
	FailureReason string

	// AlreadyTerminal is set when another worker won the terminal
	// transition; nothing was changed by this call.
	AlreadyTerminal bool
}

type Service struct {
	db      *pgxpool.Pool
	tickets *ticket.Repository
	orders  *order.Repository
}

func NewService(db *pgxpool.Pool, tickets *ticket.Repository, orders *order.Repository) *Service {
	return &Service{db: db, tickets: tickets, orders: orders}
}

// Finalize runs the stock reservation for a pending order and persists
// the terminal status. Insufficient stock is a normal outcome recorded
// as a failed order; any other error is infrastructure trouble and the
// order is left untouched for redelivery.
func (s *Service) Finalize(ctx context.Context, o *order.Order) (Outcome, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	reservations := make([]ticket.Reservation, 0, len(o.Items))
	for _, item := range o.Items {
		reservations = append(reservations, ticket.Reservation{
			TicketTypeID: item.TicketTypeID,
			Quantity:     item.Quantity,
		})
	}

	err = s.tickets.ReserveInTx(ctx, tx, reservations)
	var stockErr *ticket.StockError
	switch {
	case err == nil:
		o.Status = order.StatusConfirmed
		o.Message = "Order confirmed"
		o.FailureReason = ""
	case errors.As(err, &stockErr):
		// The failed check ran before any decrement, so committing the
		// failed status below commits no stock mutation.
		o.Status = order.StatusFailed
		o.Message = "Order failed: insufficient stock"
		o.FailureReason = stockErr.Error()
	default:
		return Outcome{}, err
	}

	applied, err := s.orders.SetTerminalTx(ctx, tx, o)
	if err != nil {
		return Outcome{}, err
	}
	if !applied {
		// Another worker already finalized this order; the rollback in
		// the deferred call discards our reservation.
		return Outcome{AlreadyTerminal: true}, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return Outcome{}, fmt.Errorf("failed to commit reservation: %w", err)
	}
	return Outcome{Status: o.Status, FailureReason: o.FailureReason}, nil
}
