package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn represents a single authenticated WebSocket session. It is created
// fully initialized at auth success (identity fields are never attached
// after the fact) and owned exclusively by this gateway process until the
// close path runs.
type Conn struct {
	ID       string // connection ID (UUID)
	UserID   string // authenticated user ID from the token
	Username string // display name from the token
	RoomID   string // room joined at handshake

	netConn      net.Conn
	writeTimeout time.Duration // bounds every outbound frame write
	writeMu      sync.Mutex    // serializes outbound frames
	alive        int32         // atomic: 1 = answered the previous heartbeat ping
	lastPong     int64         // atomic: unix millis of last liveness proof
	closing      sync.Once     // guards the gateway close path
}

// newConn wraps an upgraded network connection with its authenticated
// identity. The connection starts alive.
func newConn(id, userID, username, roomID string, nc net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{
		ID:           id,
		UserID:       userID,
		Username:     username,
		RoomID:       roomID,
		netConn:      nc,
		writeTimeout: writeTimeout,
		alive:        1,
		lastPong:     time.Now().UnixMilli(),
	}
}

// WriteMessage sends a WebSocket text frame. The write mutex ensures
// concurrent goroutines do not interleave frame bytes. Writes carry a
// deadline: a peer that stops reading makes the write fail instead of
// blocking the caller, and the resulting error sends the connection down
// the close path.
func (c *Conn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		c.netConn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return wsutil.WriteServerMessage(c.netConn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame (opcode 0x9); clients answer
// with a pong automatically. The write deadline applies here too.
func (c *Conn) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		c.netConn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return ws.WriteFrame(c.netConn, ws.NewPingFrame(nil))
}

// markAlive records that the connection answered (any inbound frame counts
// as proof of life).
func (c *Conn) markAlive() {
	atomic.StoreInt32(&c.alive, 1)
	atomic.StoreInt64(&c.lastPong, time.Now().UnixMilli())
}

// consumeAlive clears the alive flag and reports whether it was set. The
// heartbeat sweep terminates connections whose flag was already clear.
func (c *Conn) consumeAlive() bool {
	return atomic.SwapInt32(&c.alive, 0) == 1
}

// LastPong returns the time of the last liveness proof.
func (c *Conn) LastPong() time.Time {
	return time.UnixMilli(atomic.LoadInt64(&c.lastPong))
}
