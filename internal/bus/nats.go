package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// StreamName is the JetStream stream backing the durable transport. It
// captures every room topic under chat.>.
const StreamName = "CHAT"

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
	MaxAge        time.Duration // stream retention age
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "aurora-gateway",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
		MaxAge:        24 * time.Hour,
	}
}

// NATSBus is the durable transport: publishes append to a JetStream stream
// partitioned by room topic, and live gateway subscribers receive push
// delivery in stream order. The stream retains entries for replay
// independent of gateway liveness.
type NATSBus struct {
	conn *nats.Conn
	js   nats.JetStreamContext

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATSBus connects to NATS, idempotently ensures the CHAT stream exists,
// and returns a ready bus. It returns an error if the initial connection or
// stream setup fails.
func NewNATSBus(config NATSConfig) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[bus] nats disconnected: %v", err)
			} else {
				log.Printf("[bus] nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[bus] nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[bus] nats connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: jetstream context: %w", err)
	}

	// A stream that already exists is not an error.
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{TopicPrefix + ">"},
		Storage:  nats.FileStorage,
		MaxAge:   config.MaxAge,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, fmt.Errorf("bus: ensure stream %s: %w", StreamName, err)
	}

	log.Printf("[bus] nats connected to %s stream=%s", nc.ConnectedUrl(), StreamName)

	return &NATSBus{conn: nc, js: js}, nil
}

// Publish appends payload to the room's stream partition. The publish is
// acknowledged by the broker before returning, so a nil error means the
// message is durable.
func (b *NATSBus) Publish(ctx context.Context, roomID string, payload []byte) error {
	if _, err := b.js.Publish(Topic(roomID), payload, nats.Context(ctx)); err != nil {
		return fmt.Errorf("bus: jetstream publish room=%s: %w", roomID, err)
	}
	return nil
}

// Subscribe installs a push subscription over all room topics, delivering
// new messages in stream order. A repeat call replaces the previous
// subscription; it never stacks a duplicate handler.
func (b *NATSBus) Subscribe(handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			log.Printf("[bus] nats resubscribe: unsubscribe previous: %v", err)
		}
		b.sub = nil
	}

	sub, err := b.js.Subscribe(TopicPrefix+">", func(msg *nats.Msg) {
		roomID := RoomFromTopic(msg.Subject)
		if roomID == "" {
			return
		}
		handler(roomID, msg.Data)
	}, nats.DeliverNew(), nats.AckNone())
	if err != nil {
		return fmt.Errorf("bus: jetstream subscribe: %w", err)
	}

	b.sub = sub
	return nil
}

// Close drains the subscription and closes the NATS connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		if err := b.sub.Drain(); err != nil {
			log.Printf("[bus] nats drain subscription: %v", err)
		}
		b.sub = nil
	}
	if err := b.conn.Drain(); err != nil {
		return fmt.Errorf("bus: nats connection drain: %w", err)
	}
	return nil
}
