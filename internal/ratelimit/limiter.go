// Package ratelimit provides Redis-backed message throttling using the
// INCR + PEXPIRE fixed-window algorithm, keyed per (user, room). The counter
// increment is atomic in Redis, so the limit holds across any number of
// gateway processes serving the same user.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a throttling policy: the Redis key prefix, maximum number of
// messages allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleMessage allows 3 relayed messages per second per (user, room).
//
// This is a fixed window, not a sliding log: a burst straddling a window
// boundary can admit up to twice the nominal rate.
var RuleMessage = Rule{Key: "rate:", Limit: 3, Window: 1000 * time.Millisecond}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	rule   Rule
}

// NewLimiter creates a Limiter backed by the given Redis client, enforcing
// RuleMessage.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client, rule: RuleMessage}
}

// NewLimiterWithRule creates a Limiter with a custom rule.
func NewLimiterWithRule(client *redis.Client, rule Rule) *Limiter {
	return &Limiter{client: client, rule: rule}
}

// Allow checks whether userID may send another message to roomID. It
// increments the window counter; on the increment that creates the key
// (count becomes 1) it attaches the window expiry.
//
// Returns true if the message may be relayed, false if rate limited. On
// Redis errors the method fails open (returns true) so that a Redis outage
// does not silence legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, userID, roomID string) (bool, error) {
	key := l.rule.Key + userID + ":" + roomID

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return true, err
	}

	// The first increment defines the window boundary.
	if count == 1 {
		if err := l.client.PExpire(ctx, key, l.rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis PEXPIRE error key=%s: %v (failing open)", key, err)
			// The key exists but has no TTL and would throttle the sender
			// forever. Best effort: delete it.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= l.rule.Limit, nil
}
