package ws

import "sync"

// RoomRegistry maps room IDs to the set of connections this gateway process
// currently has joined to them. It is strictly process-local bookkeeping;
// cross-process room state lives in the presence tracker and on the bus.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[string]map[*Conn]struct{})}
}

// Join adds the connection to a room's member set. A connection belongs to
// at most one room: joining removes it from any room it was in before.
func (r *RoomRegistry) Join(roomID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(c)
	if _, ok := r.rooms[roomID]; !ok {
		r.rooms[roomID] = make(map[*Conn]struct{})
	}
	r.rooms[roomID][c] = struct{}{}
}

// Leave removes the connection from every room, not just the one it claims
// to be in. This guards against a stale RoomID on the connection record.
func (r *RoomRegistry) Leave(c *Conn) {
	r.mu.Lock()
	r.removeLocked(c)
	r.mu.Unlock()
}

// removeLocked deletes c from all member sets and drops empty rooms.
// Callers must hold the write lock.
func (r *RoomRegistry) removeLocked(c *Conn) {
	for roomID, members := range r.rooms {
		if _, ok := members[c]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(r.rooms, roomID)
			}
		}
	}
}

// MembersOf returns a snapshot of the room's current members, safe to
// iterate without holding the lock. An unknown room yields an empty slice.
func (r *RoomRegistry) MembersOf(roomID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Conn, 0, len(r.rooms[roomID]))
	for c := range r.rooms[roomID] {
		members = append(members, c)
	}
	return members
}

// Count returns the total number of registered connections across rooms.
func (r *RoomRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, members := range r.rooms {
		n += len(members)
	}
	return n
}
