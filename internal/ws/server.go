// Package ws implements the connection gateway: WebSocket session
// lifecycle, room membership, presence broadcasts, and relay of inbound
// messages to the broadcast bus and the durable log.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/aurorachat/backend/internal/auth"
	"github.com/aurorachat/backend/internal/bus"
	"github.com/aurorachat/backend/internal/metrics"
	"github.com/aurorachat/backend/internal/protocol"
	"github.com/aurorachat/backend/internal/stream"
)

// Config holds tunable parameters for the gateway.
type Config struct {
	ListenAddr        string        // address to listen on, e.g. ":8080"
	DefaultRoom       string        // room joined when the client names none
	HeartbeatInterval time.Duration // interval of the liveness sweep
	WriteTimeout      time.Duration // timeout for outbound frame writes
	StoreTimeout      time.Duration // timeout for per-message store access
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":8080",
		DefaultRoom:       "general",
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      10 * time.Second,
		StoreTimeout:      3 * time.Second,
	}
}

// TokenVerifier authenticates handshake tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// RateLimiter throttles inbound messages per (user, room).
type RateLimiter interface {
	Allow(ctx context.Context, userID, roomID string) (bool, error)
}

// Presence is the cross-process online-users store.
type Presence interface {
	MarkOnline(ctx context.Context, roomID, userID, username string) error
	MarkOffline(ctx context.Context, roomID, userID string) error
	OnlineUsers(ctx context.Context, roomID string) ([]string, error)
}

// Appender is the durable-log write surface used by the relay path.
type Appender interface {
	Append(ctx context.Context, e stream.Entry) (string, error)
}

// Deps bundles the gateway's collaborators.
type Deps struct {
	Verifier TokenVerifier
	Limiter  RateLimiter
	Presence Presence
	Bus      bus.Bus
	Log      Appender
}

// Server is the connection gateway. Each accepted connection runs its own
// receive loop goroutine; a single heartbeat goroutine sweeps for dead
// connections; bus deliveries fan out to the locally registered members of
// the addressed room.
type Server struct {
	config   Config
	deps     Deps
	registry *RoomRegistry

	mu    sync.RWMutex
	conns map[string]*Conn // all live connections by ID

	httpServer *http.Server
	done       chan struct{}
	stopOnce   sync.Once
	startedAt  time.Time
}

// NewServer creates a Server with the given configuration and collaborators.
func NewServer(config Config, deps Deps) *Server {
	return &Server{
		config:   config,
		deps:     deps,
		registry: NewRoomRegistry(),
		conns:    make(map[string]*Conn),
		done:     make(chan struct{}),
	}
}

// Start subscribes to the broadcast bus, starts the heartbeat sweep, and
// begins accepting WebSocket connections. It blocks until the listener is
// released by Shutdown.
func (s *Server) Start() error {
	if err := s.deps.Bus.Subscribe(s.fanOut); err != nil {
		return fmt.Errorf("ws: bus subscribe: %w", err)
	}

	s.startedAt = time.Now()
	go s.runHeartbeat()

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.Handler(),
	}

	log.Printf("ws: gateway listening on %s (default_room=%s, heartbeat=%s)",
		s.config.ListenAddr, s.config.DefaultRoom, s.config.HeartbeatInterval)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// Handler returns the gateway's HTTP routes: the WebSocket endpoint, a
// health check, and Prometheus metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// handleUpgrade upgrades the HTTP request and authenticates the bearer
// token supplied in the `token` query parameter. A missing or invalid token
// closes the socket without a reply frame: the client distinguishes auth
// failure only by the abrupt disconnect. Subprotocol-based token transport
// is not supported and fails the same way.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = s.config.DefaultRoom
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	if token == "" {
		netConn.Close()
		return
	}
	identity, err := s.deps.Verifier.Verify(token)
	if err != nil {
		log.Printf("ws: auth failed: %v", err)
		netConn.Close()
		return
	}

	c := newConn(uuid.New().String(), identity.UserID, identity.Username, roomID, netConn, s.config.WriteTimeout)

	s.addConn(c)
	s.registry.Join(roomID, c)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.StoreTimeout)
	if err := s.deps.Presence.MarkOnline(ctx, roomID, c.UserID, c.Username); err != nil {
		log.Printf("ws: mark online conn=%s: %v", c.ID, err)
	}
	cancel()
	s.broadcastOnline(roomID)

	metrics.ConnectionsTotal.Inc()
	log.Printf("ws: new connection conn=%s user=%s room=%s (total=%d)", c.ID, c.UserID, roomID, s.connCount())

	go s.readLoop(c)
}

// readLoop is the per-connection receive loop. It owns the connection from
// the Active state until close: control frames refresh liveness, data
// frames go through the relay path, and any read error tears the
// connection down exactly once.
func (s *Server) readLoop(c *Conn) {
	defer s.closeConn(c)

	for {
		header, reader, err := wsutil.NextReader(c.netConn, ws.StateServerSide)
		if err != nil {
			return
		}

		// Any frame proves the connection is alive.
		c.markAlive()

		if header.OpCode.IsControl() {
			if header.OpCode == ws.OpClose {
				return
			}
			// Answer pings, drain pong payloads.
			if err := wsutil.ControlFrameHandler(c.netConn, ws.StateServerSide)(header, reader); err != nil {
				return
			}
			continue
		}

		data, err := io.ReadAll(reader)
		if err != nil {
			return
		}
		s.handleMessage(c, data)
	}
}

// handleMessage runs the relay path for one inbound frame: validate, rate
// check, then publish to the bus and append to the durable log together.
// Unusable frames are dropped without a reply.
func (s *Server) handleMessage(c *Conn, data []byte) {
	msg, err := protocol.ParseInbound(data)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.StoreTimeout)
	defer cancel()

	allowed, err := s.deps.Limiter.Allow(ctx, c.UserID, c.RoomID)
	if err != nil {
		log.Printf("ws: rate check conn=%s room=%s: %v", c.ID, c.RoomID, err)
	}
	if !allowed {
		metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
		if err := c.WriteMessage(protocol.NewRateLimited()); err != nil {
			log.Printf("ws: rate-limit notice conn=%s: %v", c.ID, err)
		}
		return
	}

	payload, err := protocol.NewChatMessage(c.Username, msg.Text, time.Now().UnixMilli())
	if err != nil {
		log.Printf("ws: build chat message conn=%s: %v", c.ID, err)
		return
	}

	// Fan-out and durability are issued together; neither is retried here.
	// The bus delivers to live subscribers, the log append feeds the
	// ingestion workers.
	published := true
	if err := s.deps.Bus.Publish(ctx, c.RoomID, payload); err != nil {
		log.Printf("ws: bus publish conn=%s room=%s: %v", c.ID, c.RoomID, err)
		published = false
	}
	if _, err := s.deps.Log.Append(ctx, stream.Entry{
		RoomID:   c.RoomID,
		UserID:   c.UserID,
		Text:     msg.Text,
		Username: c.Username,
	}); err != nil {
		log.Printf("ws: log append conn=%s room=%s: %v", c.ID, c.RoomID, err)
	}

	// A message nobody could see must not count as relayed.
	if published {
		metrics.MessagesTotal.WithLabelValues("relayed").Inc()
	} else {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
	}
}

// fanOut delivers a bus message to every locally registered member of the
// room. Each write is bounded by the connection's write deadline, so a
// peer that stops reading fails fast instead of stalling the dispatch
// goroutine; the failed connection is closed and the rest still get the
// message.
func (s *Server) fanOut(roomID string, payload []byte) {
	for _, c := range s.registry.MembersOf(roomID) {
		if err := c.WriteMessage(payload); err != nil {
			log.Printf("ws: fan-out write conn=%s room=%s: %v", c.ID, roomID, err)
			s.closeConn(c)
			continue
		}
		metrics.BroadcastsTotal.Inc()
	}
}

// broadcastOnline reads the authoritative presence set for the room and
// pushes the snapshot to this process's local members. Every gateway
// performs the same read-then-push after any membership change, which makes
// the view eventually consistent across processes.
func (s *Server) broadcastOnline(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.StoreTimeout)
	defer cancel()

	users, err := s.deps.Presence.OnlineUsers(ctx, roomID)
	if err != nil {
		log.Printf("ws: presence read room=%s: %v", roomID, err)
		return
	}
	payload, err := protocol.NewOnlineUsers(users)
	if err != nil {
		log.Printf("ws: presence snapshot room=%s: %v", roomID, err)
		return
	}
	for _, c := range s.registry.MembersOf(roomID) {
		if err := c.WriteMessage(payload); err != nil {
			log.Printf("ws: presence write conn=%s room=%s: %v", c.ID, roomID, err)
		}
	}
}

// closeConn runs the close path exactly once per connection, regardless of
// how many triggers race (read error, heartbeat timeout, shutdown): leave
// the room, clear presence, close the socket, broadcast the new presence
// set to the remaining members.
func (s *Server) closeConn(c *Conn) {
	c.closing.Do(func() {
		s.registry.Leave(c)
		s.removeConn(c.ID)

		ctx, cancel := context.WithTimeout(context.Background(), s.config.StoreTimeout)
		if err := s.deps.Presence.MarkOffline(ctx, c.RoomID, c.UserID); err != nil {
			log.Printf("ws: mark offline conn=%s: %v", c.ID, err)
		}
		cancel()

		c.netConn.Close()
		metrics.ConnectionsTotal.Dec()
		log.Printf("ws: connection closed conn=%s user=%s (total=%d)", c.ID, c.UserID, s.connCount())

		s.broadcastOnline(c.RoomID)
	})
}

// handleHealth responds with the gateway's health status as JSON, including
// the current connection count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.connCount(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// Shutdown performs a graceful shutdown: stop the heartbeat sweep, stop
// accepting connections, then force-close every live session through the
// normal close path.
func (s *Server) Shutdown() error {
	var err error
	s.stopOnce.Do(func() {
		log.Println("ws: shutting down gateway...")
		close(s.done)

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if herr := s.httpServer.Shutdown(ctx); herr != nil {
				err = fmt.Errorf("ws: http shutdown: %w", herr)
			}
		}

		for _, c := range s.allConns() {
			s.closeConn(c)
		}
		log.Printf("ws: gateway stopped, all connections closed")
	})
	return err
}

func (s *Server) addConn(c *Conn) {
	s.mu.Lock()
	s.conns[c.ID] = c
	s.mu.Unlock()
}

func (s *Server) removeConn(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (s *Server) connCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) allConns() []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}
