// Package stream is the durable ordered log: an append-only Redis
// stream of order-created entries consumed through a consumer group
// with explicit acknowledgement.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const orderIDField = "order_id"

// Entry is one delivered log record. OrderID is empty when the entry
// carries no usable order reference (a poison entry).
type Entry struct {
	ID      string
	OrderID string
}

type Log struct {
	client        *redis.Client
	key           string
	redeliverIdle time.Duration
}

// NewLog wraps a Redis stream. redeliverIdle is the visibility window
// after which unacknowledged entries are reclaimed from dead consumers;
// zero disables reclaiming.
func NewLog(client *redis.Client, key string, redeliverIdle time.Duration) *Log {
	return &Log{client: client, key: key, redeliverIdle: redeliverIdle}
}

// AppendOrderCreated appends an entry referencing the order and returns
// the assigned entry id. Ids are monotonically increasing per stream.
func (l *Log) AppendOrderCreated(ctx context.Context, orderID string) (string, error) {
	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.key,
		Values: map[string]any{orderIDField: orderID},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", l.key, err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group if it does not exist, creating
// the stream as well. start is the id delivery begins at: "$" for new
// entries only, "0" to replay the whole stream. Idempotent.
func (l *Log) EnsureGroup(ctx context.Context, group, start string) error {
	err := l.client.XGroupCreateMkStream(ctx, l.key, group, start).Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, l.key, err)
	}
	return nil
}

// isBusyGroup matches the reply Redis gives when the group already
// exists, which EnsureGroup treats as success.
func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// ReadGroup returns the next batch of entries for this consumer. It
// first reclaims entries another consumer left pending beyond the
// redelivery window, then blocks up to block for new entries. A nil
// batch with nil error means the block timed out.
func (l *Log) ReadGroup(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	if l.redeliverIdle > 0 {
		msgs, _, err := l.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   l.key,
			Group:    group,
			Consumer: consumer,
			MinIdle:  l.redeliverIdle,
			Start:    "0",
			Count:    count,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to reclaim pending entries: %w", err)
		}
		if len(msgs) > 0 {
			return toEntries(msgs), nil
		}
	}

	streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{l.key, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream %s: %w", l.key, err)
	}

	var entries []Entry
	for _, s := range streams {
		entries = append(entries, toEntries(s.Messages)...)
	}
	return entries, nil
}

// Ack marks an entry delivered for the group. Idempotent.
func (l *Log) Ack(ctx context.Context, group, entryID string) error {
	if err := l.client.XAck(ctx, l.key, group, entryID).Err(); err != nil {
		return fmt.Errorf("failed to ack entry %s: %w", entryID, err)
	}
	return nil
}

func toEntries(msgs []redis.XMessage) []Entry {
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, entryFromMessage(m))
	}
	return entries
}

func entryFromMessage(m redis.XMessage) Entry {
	e := Entry{ID: m.ID}
	if v, ok := m.Values[orderIDField]; ok {
		if s, ok := v.(string); ok {
			e.OrderID = s
		}
	}
	return e
}
