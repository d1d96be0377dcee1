package ws

import (
	"log"
	"time"

	"github.com/aurorachat/backend/internal/metrics"
)

// runHeartbeat pings every live connection on a fixed interval and
// terminates those that did not answer since the previous sweep. Dead
// connections are therefore detected within one interval after their next
// missed ping, at most twice the interval after they actually died. The
// goroutine exits when the server's done channel is closed.
func (s *Server) runHeartbeat() {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweepConnections()
		}
	}
}

// sweepConnections performs one heartbeat pass. A connection whose alive
// flag was not refreshed since the last sweep is force-terminated through
// the normal close path, reclaiming its room and presence entries.
func (s *Server) sweepConnections() {
	for _, c := range s.allConns() {
		if !c.consumeAlive() {
			log.Printf("ws: heartbeat timeout conn=%s user=%s last_pong=%s ago",
				c.ID, c.UserID, time.Since(c.LastPong()).Round(time.Second))
			metrics.HeartbeatTimeouts.Inc()
			s.closeConn(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed conn=%s: %v", c.ID, err)
			s.closeConn(c)
		}
	}
}
