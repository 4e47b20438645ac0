package order

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ogozo/service-ticketing/internal/logging"
	"github.com/ogozo/service-ticketing/internal/ticket"
)

// Catalog is the read side of the ticket catalog the producer prices
// against.
type Catalog interface {
	GetByID(ctx context.Context, id string) (*ticket.TicketType, error)
}

// Store persists order documents.
type Store interface {
	Insert(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
}

// Log appends order-created entries to the durable stream.
type Log interface {
	AppendOrderCreated(ctx context.Context, orderID string) (string, error)
}

// Producer validates purchase requests and turns them into pending
// orders. The order row is durably written before the stream entry that
// references it, so a worker can always load what it is delivered.
type Producer struct {
	catalog Catalog
	orders  Store
	log     Log
}

func NewProducer(catalog Catalog, orders Store, log Log) *Producer {
	return &Producer{catalog: catalog, orders: orders, log: log}
}

func (p *Producer) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(req.Items))
	currency := ""
	grandTotal := 0.0
	for _, ri := range req.Items {
		t, err := p.catalog.GetByID(ctx, ri.TicketTypeID)
		if err != nil {
			if errors.Is(err, ticket.ErrNotFound) {
				return nil, &UnknownTicketTypeError{TicketTypeID: ri.TicketTypeID}
			}
			return nil, fmt.Errorf("failed to look up ticket type %s: %w", ri.TicketTypeID, err)
		}
		if currency == "" {
			currency = t.Currency
		} else if currency != t.Currency {
			return nil, validationf("items mix currencies %s and %s", currency, t.Currency)
		}
		lineTotal := t.UnitPrice * float64(ri.Quantity)
		items = append(items, Item{
			TicketTypeID: t.ID,
			Category:     t.Category,
			Quantity:     ri.Quantity,
			UnitPrice:    t.UnitPrice,
			LineTotal:    lineTotal,
		})
		grandTotal += lineTotal
	}

	o := &Order{
		ID:         uuid.New().String(),
		Customer:   req.Customer,
		Items:      items,
		GrandTotal: grandTotal,
		Currency:   currency,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
		Message:    "Order pending confirmation",
	}

	insertOp := func() error {
		return p.orders.Insert(ctx, o)
	}
	if err := retryTransient(ctx, insertOp); err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	// The append is retried as well: until the entry exists no worker
	// will ever see this order.
	appendOp := func() error {
		_, err := p.log.AppendOrderCreated(ctx, o.ID)
		return err
	}
	if err := retryTransient(ctx, appendOp); err != nil {
		logging.Error(ctx, "failed to append order-created entry", err, zap.String("order_id", o.ID))
		return nil, fmt.Errorf("failed to append order %s to stream: %w", o.ID, err)
	}

	logging.Info(ctx, "order created", zap.String("order_id", o.ID), zap.Float64("grand_total", o.GrandTotal))
	return o, nil
}

func (p *Producer) GetOrder(ctx context.Context, id string) (*Order, error) {
	return p.orders.GetByID(ctx, id)
}

func retryTransient(ctx context.Context, op backoff.Operation) error {
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx))
}

func validateRequest(req CreateOrderRequest) error {
	if req.Customer.Name == "" {
		return validationf("customer name is required")
	}
	if _, err := mail.ParseAddress(req.Customer.Email); err != nil {
		return validationf("customer email %q is not a valid address", req.Customer.Email)
	}
	if len(req.Items) == 0 {
		return validationf("items must be a non-empty list")
	}
	for i, item := range req.Items {
		if item.TicketTypeID == "" {
			return validationf("items[%d]: ticketId is required", i)
		}
		if item.Quantity <= 0 {
			return validationf("items[%d]: qty must be positive, got %d", i, item.Quantity)
		}
	}
	return nil
}
