// Package presence tracks which users are currently online in each room.
// The per-room set lives in a shared Redis hash so that every gateway
// process observes the same membership regardless of which process owns the
// underlying connections.
package presence

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the Redis key prefix for per-room presence hashes. The full
// key is KeyPrefix + roomID + KeySuffix, field userId -> username.
const (
	KeyPrefix = "room:"
	KeySuffix = ":online"
)

// Tracker manages room presence entries in Redis.
//
// The model is one flag per (room, user): a second connection for the same
// user overwrites the entry, and whichever connection closes last clears
// it. Multi-device reference counting is deliberately not attempted.
type Tracker struct {
	client *redis.Client
}

// NewTracker creates a Tracker backed by the given Redis client.
func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

func roomKey(roomID string) string {
	return KeyPrefix + roomID + KeySuffix
}

// MarkOnline records userID as present in roomID with its display name.
func (t *Tracker) MarkOnline(ctx context.Context, roomID, userID, username string) error {
	if err := t.client.HSet(ctx, roomKey(roomID), userID, username).Err(); err != nil {
		return fmt.Errorf("presence: mark online room=%s user=%s: %w", roomID, userID, err)
	}
	return nil
}

// MarkOffline removes userID's presence entry for roomID. Removing an
// absent user is not an error.
func (t *Tracker) MarkOffline(ctx context.Context, roomID, userID string) error {
	if err := t.client.HDel(ctx, roomKey(roomID), userID).Err(); err != nil {
		return fmt.Errorf("presence: mark offline room=%s user=%s: %w", roomID, userID, err)
	}
	return nil
}

// OnlineUsers returns the display names of every user currently present in
// roomID, sorted for stable snapshots. An empty room yields an empty slice.
func (t *Tracker) OnlineUsers(ctx context.Context, roomID string) ([]string, error) {
	entries, err := t.client.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: list room=%s: %w", roomID, err)
	}

	users := make([]string, 0, len(entries))
	for _, username := range entries {
		users = append(users, username)
	}
	sort.Strings(users)
	return users, nil
}
