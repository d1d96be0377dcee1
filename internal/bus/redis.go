package bus

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus is the ephemeral transport: Redis pattern pub/sub over chat.*.
// Delivery is best effort: a subscriber that is down or slow simply misses
// that period, with no replay.
type RedisBus struct {
	client *redis.Client

	mu      sync.Mutex
	pubsub  *redis.PubSub
	done    chan struct{}
	handler Handler
}

// NewRedisBus creates a RedisBus on the given client. The client is owned
// by the caller and is not closed by Close.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish sends payload to the room's channel. Subscribers that are not
// listening at this moment never see the message.
func (b *RedisBus) Publish(ctx context.Context, roomID string, payload []byte) error {
	if err := b.client.Publish(ctx, Topic(roomID), payload).Err(); err != nil {
		return fmt.Errorf("bus: redis publish room=%s: %w", roomID, err)
	}
	return nil
}

// Subscribe pattern-subscribes to all room topics and dispatches messages
// to the handler from a single goroutine, preserving per-room order.
// A repeat call tears down the previous subscription first, so handlers
// never stack.
func (b *RedisBus) Subscribe(handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubsub != nil {
		close(b.done)
		if err := b.pubsub.Close(); err != nil {
			log.Printf("[bus] redis resubscribe: close previous: %v", err)
		}
	}

	ctx := context.Background()
	pubsub := b.client.PSubscribe(ctx, TopicPrefix+"*")

	// Force the subscription onto the wire before returning, so a Publish
	// issued right after Subscribe is not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("bus: redis psubscribe: %w", err)
	}

	done := make(chan struct{})
	b.pubsub = pubsub
	b.done = done
	b.handler = handler

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				roomID := RoomFromTopic(msg.Channel)
				if roomID == "" {
					continue
				}
				handler(roomID, []byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Close stops the dispatch goroutine and unsubscribes.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubsub == nil {
		return nil
	}
	close(b.done)
	err := b.pubsub.Close()
	b.pubsub = nil
	return err
}
