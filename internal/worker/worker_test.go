package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ogozo/service-ticketing/internal/broker"
	"github.com/ogozo/service-ticketing/internal/order"
	"github.com/ogozo/service-ticketing/internal/reservation"
	"github.com/ogozo/service-ticketing/internal/stream"
)

type fakeLog struct {
	acked []string
}

func (f *fakeLog) EnsureGroup(context.Context, string, string) error { return nil }

func (f *fakeLog) ReadGroup(context.Context, string, string, int64, time.Duration) ([]stream.Entry, error) {
	return nil, nil
}

func (f *fakeLog) Ack(_ context.Context, _ string, entryID string) error {
	f.acked = append(f.acked, entryID)
	return nil
}

type fakeStore struct {
	orders  map[string]*order.Order
	loadErr error
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*order.Order, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	o, ok := f.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

type fakeFinalizer struct {
	outcome reservation.Outcome
	err     error
	calls   int
}

func (f *fakeFinalizer) Finalize(_ context.Context, o *order.Order) (reservation.Outcome, error) {
	f.calls++
	if f.err != nil {
		return reservation.Outcome{}, f.err
	}
	o.Status = f.outcome.Status
	return f.outcome, nil
}

type fakePublisher struct {
	events []broker.OrderResultEvent
	err    error
}

func (f *fakePublisher) PublishOrderResult(_ context.Context, ev broker.OrderResultEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func newTestWorker(log *fakeLog, store *fakeStore, fin *fakeFinalizer, pub *fakePublisher) *Worker {
	return New(log, store, fin, pub, Config{
		Group:      "order-workers",
		GroupStart: "$",
		Consumer:   "worker-1",
		BatchSize:  10,
		Block:      time.Second,
	})
}

func pendingOrder(id string) *order.Order {
	return &order.Order{
		ID:     id,
		Status: order.StatusPending,
		Items:  []order.Item{{TicketTypeID: "t1", Quantity: 1, UnitPrice: 25, LineTotal: 25}},
	}
}

func TestProcessEntryConfirms(t *testing.T) {
	log := &fakeLog{}
	store := &fakeStore{orders: map[string]*order.Order{"o1": pendingOrder("o1")}}
	fin := &fakeFinalizer{outcome: reservation.Outcome{Status: order.StatusConfirmed}}
	pub := &fakePublisher{}
	w := newTestWorker(log, store, fin, pub)

	w.processEntry(context.Background(), stream.Entry{ID: "1-0", OrderID: "o1"})

	if fin.calls != 1 {
		t.Errorf("finalizer called %d times", fin.calls)
	}
	if len(log.acked) != 1 || log.acked[0] != "1-0" {
		t.Errorf("acked = %v", log.acked)
	}
	if len(pub.events) != 1 || pub.events[0].Status != "confirmed" || pub.events[0].OrderID != "o1" {
		t.Errorf("published = %+v", pub.events)
	}
}

func TestProcessEntryFailedOrderStillAcked(t *testing.T) {
	log := &fakeLog{}
	store := &fakeStore{orders: map[string]*order.Order{"o1": pendingOrder("o1")}}
	fin := &fakeFinalizer{outcome: reservation.Outcome{
		Status:        order.StatusFailed,
		FailureReason: "insufficient stock for ticket type t1: requested 1, available 0",
	}}
	pub := &fakePublisher{}
	w := newTestWorker(log, store, fin, pub)

	w.processEntry(context.Background(), stream.Entry{ID: "1-0", OrderID: "o1"})

	if len(log.acked) != 1 {
		t.Errorf("acked = %v", log.acked)
	}
	if len(pub.events) != 1 || pub.events[0].Status != "failed" || pub.events[0].Reason == "" {
		t.Errorf("published = %+v", pub.events)
	}
}

func TestProcessEntryPoisonAckedWithoutFinalize(t *testing.T) {
	log := &fakeLog{}
	fin := &fakeFinalizer{}
	w := newTestWorker(log, &fakeStore{}, fin, &fakePublisher{})

	w.processEntry(context.Background(), stream.Entry{ID: "1-0"})

	if fin.calls != 0 {
		t.Error("finalizer called for poison entry")
	}
	if len(log.acked) != 1 {
		t.Errorf("poison entry not acked: %v", log.acked)
	}
}

func TestProcessEntryMissingOrderAcked(t *testing.T) {
	log := &fakeLog{}
	fin := &fakeFinalizer{}
	w := newTestWorker(log, &fakeStore{orders: map[string]*order.Order{}}, fin, &fakePublisher{})

	w.processEntry(context.Background(), stream.Entry{ID: "1-0", OrderID: "gone"})

	if fin.calls != 0 {
		t.Error("finalizer called for missing order")
	}
	if len(log.acked) != 1 {
		t.Errorf("entry for missing order not acked: %v", log.acked)
	}
}

func TestProcessEntryTerminalOrderAckedWithoutFinalize(t *testing.T) {
	confirmed := pendingOrder("o1")
	confirmed.Status = order.StatusConfirmed

	log := &fakeLog{}
	fin := &fakeFinalizer{}
	pub := &fakePublisher{}
	w := newTestWorker(log, &fakeStore{orders: map[string]*order.Order{"o1": confirmed}}, fin, pub)

	w.processEntry(context.Background(), stream.Entry{ID: "1-0", OrderID: "o1"})

	if fin.calls != 0 {
		t.Error("redelivered terminal order reached the finalizer")
	}
	if len(log.acked) != 1 {
		t.Errorf("redelivered entry not acked: %v", log.acked)
	}
	if len(pub.events) != 0 {
		t.Errorf("result republished on redelivery: %+v", pub.events)
	}
}

func TestProcessEntryTransientLoadErrorNotAcked(t *testing.T) {
	log := &fakeLog{}
	store := &fakeStore{loadErr: errors.New("connection refused")}
	w := newTestWorker(log, store, &fakeFinalizer{}, &fakePublisher{})

	w.processEntry(context.Background(), stream.Entry{ID: "1-0", OrderID: "o1"})

	if len(log.acked) != 0 {
		t.Errorf("entry acked despite load failure: %v", log.acked)
	}
}

func TestProcessEntryTransientFinalizeErrorNotAcked(t *testing.T) {
	log := &fakeLog{}
	store := &fakeStore{orders: map[string]*order.Order{"o1": pendingOrder("o1")}}
	fin := &fakeFinalizer{err: errors.New("database unavailable")}
	w := newTestWorker(log, store, fin, &fakePublisher{})

	// Canceled context stops the retry loop immediately.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.processEntry(ctx, stream.Entry{ID: "1-0", OrderID: "o1"})

	if len(log.acked) != 0 {
		t.Errorf("entry acked despite finalize failure: %v", log.acked)
	}
}

func TestProcessEntryAlreadyTerminalOutcomeAcked(t *testing.T) {
	log := &fakeLog{}
	store := &fakeStore{orders: map[string]*order.Order{"o1": pendingOrder("o1")}}
	fin := &fakeFinalizer{outcome: reservation.Outcome{AlreadyTerminal: true}}
	pub := &fakePublisher{}
	w := newTestWorker(log, store, fin, pub)

	w.processEntry(context.Background(), stream.Entry{ID: "1-0", OrderID: "o1"})

	if len(log.acked) != 1 {
		t.Errorf("entry not acked after losing the terminal race: %v", log.acked)
	}
	if len(pub.events) != 0 {
		t.Errorf("result published by the losing worker: %+v", pub.events)
	}
}

func TestProcessEntryPublishFailureStillAcks(t *testing.T) {
	log := &fakeLog{}
	store := &fakeStore{orders: map[string]*order.Order{"o1": pendingOrder("o1")}}
	fin := &fakeFinalizer{outcome: reservation.Outcome{Status: order.StatusConfirmed}}
	pub := &fakePublisher{err: errors.New("broker gone")}
	w := newTestWorker(log, store, fin, pub)

	w.processEntry(context.Background(), stream.Entry{ID: "1-0", OrderID: "o1"})

	if len(log.acked) != 1 {
		t.Errorf("persisted order held hostage by publish failure: %v", log.acked)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	log := &fakeLog{}
	w := newTestWorker(log, &fakeStore{}, &fakeFinalizer{}, &fakePublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v on cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
