// Package bus abstracts the cross-process broadcast transport that fans a
// published room message out to every subscribed gateway process. Two
// implementations exist: an ephemeral Redis pub/sub transport (fire and
// forget) and a durable NATS JetStream transport (append only log with
// replay). The gateway depends only on the Bus interface.
package bus

import "context"

// TopicPrefix is the room topic namespace shared by both transports.
const TopicPrefix = "chat."

// Handler receives a message published to a room topic. Handlers for a
// given transport are invoked sequentially, preserving per-room publish
// order.
type Handler func(roomID string, payload []byte)

// Bus is the broadcast transport contract.
//
// Both implementations guarantee that messages for a given room reach all
// currently subscribed processes in publish order within that room. There
// is no ordering across rooms.
type Bus interface {
	// Publish sends payload to every subscriber of the room's topic.
	Publish(ctx context.Context, roomID string, payload []byte) error

	// Subscribe installs the handler for all room topics. Calling
	// Subscribe again replaces the previous subscription; it never stacks
	// a duplicate handler.
	Subscribe(handler Handler) error

	// Close tears down the subscription and the underlying connection.
	Close() error
}

// Topic returns the transport topic for a room.
func Topic(roomID string) string {
	return TopicPrefix + roomID
}

// RoomFromTopic extracts the room ID from a topic name. It returns "" when
// the topic is not room-addressed.
func RoomFromTopic(topic string) string {
	if len(topic) <= len(TopicPrefix) || topic[:len(TopicPrefix)] != TopicPrefix {
		return ""
	}
	return topic[len(TopicPrefix):]
}
