// Package worker drains the order stream as a consumer-group member and
// drives each delivered order to a terminal status.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ogozo/service-ticketing/internal/broker"
	"github.com/ogozo/service-ticketing/internal/logging"
	"github.com/ogozo/service-ticketing/internal/order"
	"github.com/ogozo/service-ticketing/internal/reservation"
	"github.com/ogozo/service-ticketing/internal/stream"
)

// OrderLog is the consumer-group surface of the durable log.
type OrderLog interface {
	EnsureGroup(ctx context.Context, group, start string) error
	ReadGroup(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]stream.Entry, error)
	Ack(ctx context.Context, group, entryID string) error
}

// OrderStore loads order documents for delivered entries.
type OrderStore interface {
	GetByID(ctx context.Context, id string) (*order.Order, error)
}

// Finalizer applies the reservation and the terminal transition.
type Finalizer interface {
	Finalize(ctx context.Context, o *order.Order) (reservation.Outcome, error)
}

// ResultPublisher announces terminal outcomes to other services.
type ResultPublisher interface {
	PublishOrderResult(ctx context.Context, event broker.OrderResultEvent) error
}

type Config struct {
	Group      string
	GroupStart string
	Consumer   string
	BatchSize  int64
	Block      time.Duration
}

type Worker struct {
	log       OrderLog
	orders    OrderStore
	finalizer Finalizer
	results   ResultPublisher
	cfg       Config
}

func New(log OrderLog, orders OrderStore, finalizer Finalizer, results ResultPublisher, cfg Config) *Worker {
	return &Worker{log: log, orders: orders, finalizer: finalizer, results: results, cfg: cfg}
}

// Run blocks draining the stream until ctx is canceled. Failure to
// establish the consumer group is fatal and returned; per-entry trouble
// never is.
func (w *Worker) Run(ctx context.Context) error {
	ensure := func() error {
		return w.log.EnsureGroup(ctx, w.cfg.Group, w.cfg.GroupStart)
	}
	err := backoff.Retry(ensure, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx))
	if err != nil {
		return err
	}
	logging.Info(ctx, "worker started",
		zap.String("group", w.cfg.Group),
		zap.String("consumer", w.cfg.Consumer))

	for {
		if err := ctx.Err(); err != nil {
			logging.Info(ctx, "worker stopping", zap.String("consumer", w.cfg.Consumer))
			return nil
		}

		entries, err := w.log.ReadGroup(ctx, w.cfg.Group, w.cfg.Consumer, w.cfg.BatchSize, w.cfg.Block)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logging.Error(ctx, "failed to read from stream", err, zap.String("consumer", w.cfg.Consumer))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, entry := range entries {
			w.processEntry(ctx, entry)
		}
	}
}

// processEntry drives one delivered entry to completion. The entry is
// acknowledged only after the order's terminal state is durably
// persisted, or when reprocessing can never succeed (poison entries,
// missing orders, orders already terminal).
func (w *Worker) processEntry(ctx context.Context, entry stream.Entry) {
	if entry.OrderID == "" {
		logging.Warn(ctx, "dropping entry without order reference", zap.String("entry_id", entry.ID))
		w.ack(ctx, entry)
		return
	}

	o, err := w.orders.GetByID(ctx, entry.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			logging.Warn(ctx, "dropping entry for unknown order",
				zap.String("entry_id", entry.ID), zap.String("order_id", entry.OrderID))
			w.ack(ctx, entry)
			return
		}
		// Transient: leave unacked so the entry is redelivered.
		logging.Error(ctx, "failed to load order", err, zap.String("order_id", entry.OrderID))
		return
	}

	if o.Status.Terminal() {
		// Redelivery of an already finalized order. Acking is all that
		// is left to do.
		logging.Info(ctx, "order already terminal, skipping",
			zap.String("order_id", o.ID), zap.String("status", string(o.Status)))
		w.ack(ctx, entry)
		return
	}

	var outcome reservation.Outcome
	finalize := func() error {
		var err error
		outcome, err = w.finalizer.Finalize(ctx, o)
		return err
	}
	err = backoff.Retry(finalize, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx))
	if err != nil {
		logging.Error(ctx, "failed to finalize order, leaving entry for redelivery", err,
			zap.String("order_id", o.ID))
		return
	}

	if outcome.AlreadyTerminal {
		w.ack(ctx, entry)
		return
	}

	if outcome.Status == order.StatusConfirmed {
		logging.Info(ctx, "order confirmed", zap.String("order_id", o.ID))
	} else {
		logging.Info(ctx, "order failed",
			zap.String("order_id", o.ID), zap.String("reason", outcome.FailureReason))
	}

	if w.results != nil {
		event := broker.OrderResultEvent{
			OrderID: o.ID,
			Status:  string(outcome.Status),
			Reason:  outcome.FailureReason,
		}
		if err := w.results.PublishOrderResult(ctx, event); err != nil {
			// The terminal state is already durable; losing the
			// notification must not hold the entry hostage.
			logging.Error(ctx, "failed to publish order result", err, zap.String("order_id", o.ID))
		}
	}

	w.ack(ctx, entry)
}

func (w *Worker) ack(ctx context.Context, entry stream.Entry) {
	if err := w.log.Ack(ctx, w.cfg.Group, entry.ID); err != nil {
		// The entry will be redelivered; the terminal-status guard makes
		// reprocessing harmless.
		logging.Error(ctx, "failed to ack entry", err, zap.String("entry_id", entry.ID))
	}
}
