package stream

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestEntryFromMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  redis.XMessage
		want Entry
	}{
		{
			"order reference present",
			redis.XMessage{ID: "1-0", Values: map[string]any{"order_id": "abc"}},
			Entry{ID: "1-0", OrderID: "abc"},
		},
		{
			"missing field",
			redis.XMessage{ID: "2-0", Values: map[string]any{"other": "x"}},
			Entry{ID: "2-0"},
		},
		{
			"non-string value",
			redis.XMessage{ID: "3-0", Values: map[string]any{"order_id": 42}},
			Entry{ID: "3-0"},
		},
		{
			"no values",
			redis.XMessage{ID: "4-0"},
			Entry{ID: "4-0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entryFromMessage(tt.msg); got != tt.want {
				t.Errorf("entryFromMessage() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// Group delivery, acknowledgement and the redelivery window are server
// behavior, so they are exercised against a real Redis when
// TEST_REDIS_URL is set, e.g. redis://localhost:6379/15.
func testLog(t *testing.T, redeliverIdle time.Duration) *Log {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	key := "orders-stream-test-" + uuid.New().String()
	t.Cleanup(func() {
		client.Del(context.Background(), key)
		client.Close()
	})
	return NewLog(client, key, redeliverIdle)
}

func TestEnsureGroupIdempotent(t *testing.T) {
	l := testLog(t, 0)
	ctx := context.Background()

	if err := l.EnsureGroup(ctx, "order-workers", "0"); err != nil {
		t.Fatalf("first EnsureGroup: %v", err)
	}
	if err := l.EnsureGroup(ctx, "order-workers", "0"); err != nil {
		t.Errorf("second EnsureGroup: %v", err)
	}
}

func TestAppendReadAckRoundTrip(t *testing.T) {
	l := testLog(t, 0)
	ctx := context.Background()
	const group = "order-workers"

	if err := l.EnsureGroup(ctx, group, "0"); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}

	id1, err := l.AppendOrderCreated(ctx, "o1")
	if err != nil {
		t.Fatalf("AppendOrderCreated: %v", err)
	}
	id2, err := l.AppendOrderCreated(ctx, "o2")
	if err != nil {
		t.Fatalf("AppendOrderCreated: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("entry ids not increasing: %s then %s", id1, id2)
	}

	entries, err := l.ReadGroup(ctx, group, "consumer-a", 10, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadGroup: %v", err)
	}
	if len(entries) != 2 || entries[0].OrderID != "o1" || entries[1].OrderID != "o2" {
		t.Fatalf("entries = %+v", entries)
	}

	for _, e := range entries {
		if err := l.Ack(ctx, group, e.ID); err != nil {
			t.Fatalf("Ack: %v", err)
		}
	}
	// Acking twice must be harmless.
	if err := l.Ack(ctx, group, entries[0].ID); err != nil {
		t.Errorf("second Ack: %v", err)
	}

	entries, err = l.ReadGroup(ctx, group, "consumer-a", 10, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadGroup after ack: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("acked entries redelivered: %+v", entries)
	}
}

func TestReadGroupReclaimsPendingEntries(t *testing.T) {
	l := testLog(t, 50*time.Millisecond)
	ctx := context.Background()
	const group = "order-workers"

	if err := l.EnsureGroup(ctx, group, "0"); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	if _, err := l.AppendOrderCreated(ctx, "o1"); err != nil {
		t.Fatalf("AppendOrderCreated: %v", err)
	}

	// consumer-a takes delivery and dies without acking.
	entries, err := l.ReadGroup(ctx, group, "consumer-a", 10, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadGroup: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}

	time.Sleep(120 * time.Millisecond)

	reclaimed, err := l.ReadGroup(ctx, group, "consumer-b", 10, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadGroup reclaim: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].ID != entries[0].ID || reclaimed[0].OrderID != "o1" {
		t.Fatalf("reclaimed = %+v, want the entry consumer-a left pending", reclaimed)
	}

	if err := l.Ack(ctx, group, reclaimed[0].ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	// Once acked the entry is out of the pending list: neither the
	// reclaim pass nor a fresh read may see it again.
	time.Sleep(120 * time.Millisecond)
	entries, err = l.ReadGroup(ctx, group, "consumer-c", 10, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadGroup after ack: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("acked entry redelivered: %+v", entries)
	}
}

func TestIsBusyGroup(t *testing.T) {
	if !isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")) {
		t.Error("BUSYGROUP reply not recognized")
	}
	if isBusyGroup(errors.New("NOGROUP No such consumer group")) {
		t.Error("NOGROUP wrongly treated as existing group")
	}
	if isBusyGroup(nil) {
		t.Error("nil error treated as busy group")
	}
}
