package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aurorachat/backend/internal/auth"
	"github.com/aurorachat/backend/internal/bus"
	"github.com/aurorachat/backend/internal/presence"
	"github.com/aurorachat/backend/internal/ratelimit"
	"github.com/aurorachat/backend/internal/stream"
	"github.com/aurorachat/backend/internal/ws"
)

func main() {
	config := ws.DefaultConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("DEFAULT_ROOM"); v != "" {
		config.DefaultRoom = v
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "gateway-1"
	}

	// --- Message bus ---
	// BUS_MODE=ephemeral fans out over Redis pub/sub; BUS_MODE=durable
	// routes through a NATS JetStream stream instead.
	busMode := os.Getenv("BUS_MODE")
	if busMode == "" {
		busMode = "ephemeral"
	}

	var msgBus bus.Bus
	switch busMode {
	case "ephemeral":
		msgBus = bus.NewRedisBus(rdb)
	case "durable":
		natsConfig := bus.DefaultNATSConfig()
		if v := os.Getenv("NATS_URL"); v != "" {
			natsConfig.URL = v
		}
		natsConfig.Name = serverName
		nb, err := bus.NewNATSBus(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		msgBus = nb
	default:
		log.Fatalf("unknown BUS_MODE %q (want ephemeral or durable)", busMode)
	}

	log.Printf("Aurora chat gateway starting")
	log.Printf("  listen_addr:        %s", config.ListenAddr)
	log.Printf("  default_room:       %s", config.DefaultRoom)
	log.Printf("  heartbeat_interval: %s", config.HeartbeatInterval)
	log.Printf("  bus_mode:           %s", busMode)
	log.Printf("  redis_addr:         %s", redisAddr)
	log.Printf("  server_name:        %s", serverName)

	server := ws.NewServer(config, ws.Deps{
		Verifier: auth.NewVerifier(secret),
		Limiter:  ratelimit.NewLimiter(rdb),
		Presence: presence.NewTracker(rdb),
		Bus:      msgBus,
		Log:      stream.NewLog(rdb),
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := msgBus.Close(); err != nil {
			log.Printf("bus close error: %v", err)
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
