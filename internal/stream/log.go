// Package stream wraps the append-only Redis Stream that durably records
// every relayed chat message, plus the consumer-group operations the
// ingestion worker uses to drain it with crash-safe acknowledgment.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// StreamKey is the Redis Stream holding every relayed message.
	StreamKey = "chat:messages"

	// GroupName is the deployment-wide consumer group for the archive
	// workers. Consumer names within the group must be unique per worker
	// instance.
	GroupName = "archive_workers"

	// DefaultBatchSize caps how many new entries a single read claims.
	DefaultBatchSize = 50

	// DefaultBlock bounds how long an empty read waits before returning.
	DefaultBlock = 5000 * time.Millisecond
)

// Entry is one durable chat message record. Entries are immutable once
// appended; the log assigns each a monotonically ordered ID.
type Entry struct {
	RoomID   string
	UserID   string
	Text     string
	Username string
}

// PendingEntry pairs a decoded Entry with its log-assigned ID, needed for
// acknowledgment.
type PendingEntry struct {
	ID    string
	Entry Entry
}

// Log provides append and consumer-group access to the chat message stream.
type Log struct {
	client    *redis.Client
	key       string
	group     string
	batchSize int64
	block     time.Duration
}

// NewLog creates a Log with production defaults on the given Redis client.
func NewLog(client *redis.Client) *Log {
	return &Log{
		client:    client,
		key:       StreamKey,
		group:     GroupName,
		batchSize: DefaultBatchSize,
		block:     DefaultBlock,
	}
}

// NewLogWithKey creates a Log on a custom stream key and group. Used by
// tests for key isolation.
func NewLogWithKey(client *redis.Client, key, group string, batchSize int64, block time.Duration) *Log {
	return &Log{client: client, key: key, group: group, batchSize: batchSize, block: block}
}

// Append appends an entry to the stream and returns its log-assigned ID.
func (l *Log) Append(ctx context.Context, e Entry) (string, error) {
	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.key,
		Values: map[string]interface{}{
			"roomId":   e.RoomID,
			"userId":   e.UserID,
			"text":     e.Text,
			"username": e.Username,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("stream: append: %w", err)
	}
	return id, nil
}

// EnsureGroup idempotently creates the consumer group at the stream's
// origin, creating the stream itself if it does not exist yet. A group that
// already exists is treated as success and its cursor is left untouched.
func (l *Log) EnsureGroup(ctx context.Context) error {
	err := l.client.XGroupCreateMkStream(ctx, l.key, l.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("stream: create group %s: %w", l.group, err)
	}
	return nil
}

// ReadBatch block-reads up to the batch size of new entries assigned to the
// named consumer. It returns the decoded entries plus the IDs of entries
// that were delivered but could not be decoded (missing required fields);
// those must still be acknowledged or they poison the pending set forever.
// An empty read after the block timeout returns (nil, nil, nil).
func (l *Log) ReadBatch(ctx context.Context, consumer string) ([]PendingEntry, []string, error) {
	res, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    l.group,
		Consumer: consumer,
		Streams:  []string{l.key, ">"},
		Count:    l.batchSize,
		Block:    l.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil, nil // nothing new within the block window
	}
	if err != nil {
		return nil, nil, fmt.Errorf("stream: read group: %w", err)
	}
	if len(res) == 0 {
		return nil, nil, nil
	}

	var (
		entries []PendingEntry
		skipped []string
	)
	for _, msg := range res[0].Messages {
		e, ok := decodeEntry(msg.Values)
		if !ok {
			skipped = append(skipped, msg.ID)
			continue
		}
		entries = append(entries, PendingEntry{ID: msg.ID, Entry: e})
	}
	return entries, skipped, nil
}

// Ack acknowledges the given entry IDs, removing them from the group's
// pending set. Acknowledging nothing is a no-op.
func (l *Log) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := l.client.XAck(ctx, l.key, l.group, ids...).Err(); err != nil {
		return fmt.Errorf("stream: ack: %w", err)
	}
	return nil
}

// decodeEntry maps raw stream fields into an Entry. roomId, userId and text
// are required; username may be absent on entries appended by older
// gateways.
func decodeEntry(values map[string]interface{}) (Entry, bool) {
	e := Entry{
		RoomID:   stringField(values, "roomId"),
		UserID:   stringField(values, "userId"),
		Text:     stringField(values, "text"),
		Username: stringField(values, "username"),
	}
	if e.RoomID == "" || e.UserID == "" || e.Text == "" {
		return Entry{}, false
	}
	return e, true
}

func stringField(values map[string]interface{}, key string) string {
	v, ok := values[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// isBusyGroup reports whether err is Redis's BUSYGROUP reply, returned when
// the consumer group already exists.
func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
