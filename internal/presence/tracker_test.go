package presence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestTracker creates a Tracker connected to a local Redis instance and
// returns it with a unique room ID for key isolation. Tests that call this
// helper require a running Redis on localhost:6379.
func newTestTracker(t *testing.T) (*Tracker, string) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	roomID := fmt.Sprintf("test_room_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		client.Del(ctx, roomKey(roomID))
		client.Close()
	})
	return NewTracker(client), roomID
}

func TestMarkOnlineAndList(t *testing.T) {
	tracker, room := newTestTracker(t)
	ctx := context.Background()

	if err := tracker.MarkOnline(ctx, room, "u1", "alice"); err != nil {
		t.Fatalf("MarkOnline() error: %v", err)
	}
	if err := tracker.MarkOnline(ctx, room, "u2", "bob"); err != nil {
		t.Fatalf("MarkOnline() error: %v", err)
	}

	users, err := tracker.OnlineUsers(ctx, room)
	if err != nil {
		t.Fatalf("OnlineUsers() error: %v", err)
	}
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Errorf("expected [alice bob], got %v", users)
	}
}

func TestMarkOfflineRestoresPriorSet(t *testing.T) {
	tracker, room := newTestTracker(t)
	ctx := context.Background()

	tracker.MarkOnline(ctx, room, "u1", "alice")
	tracker.MarkOnline(ctx, room, "u2", "bob")
	if err := tracker.MarkOffline(ctx, room, "u2"); err != nil {
		t.Fatalf("MarkOffline() error: %v", err)
	}

	users, err := tracker.OnlineUsers(ctx, room)
	if err != nil {
		t.Fatalf("OnlineUsers() error: %v", err)
	}
	if len(users) != 1 || users[0] != "alice" {
		t.Errorf("expected [alice], got %v", users)
	}
}

func TestMarkOfflineAbsentUser(t *testing.T) {
	tracker, room := newTestTracker(t)
	ctx := context.Background()

	if err := tracker.MarkOffline(ctx, room, "ghost"); err != nil {
		t.Errorf("removing an absent user should not error: %v", err)
	}
}

func TestEmptyRoom(t *testing.T) {
	tracker, room := newTestTracker(t)

	users, err := tracker.OnlineUsers(context.Background(), room)
	if err != nil {
		t.Fatalf("OnlineUsers() error: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("expected empty room, got %v", users)
	}
}

func TestRemarkOverwritesDisplayName(t *testing.T) {
	tracker, room := newTestTracker(t)
	ctx := context.Background()

	tracker.MarkOnline(ctx, room, "u1", "alice")
	tracker.MarkOnline(ctx, room, "u1", "alice2")

	users, err := tracker.OnlineUsers(ctx, room)
	if err != nil {
		t.Fatalf("OnlineUsers() error: %v", err)
	}
	if len(users) != 1 || users[0] != "alice2" {
		t.Errorf("expected [alice2], got %v", users)
	}
}
