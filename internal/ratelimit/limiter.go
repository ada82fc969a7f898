// Package ratelimit provides Redis-backed send throttling using the
// INCR + EXPIRE window algorithm. On Redis errors it fails open so a cache
// outage never blocks legitimate traffic.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a throttling policy: key prefix, max count, window.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

// RuleSend allows 20 message sends per 10 seconds per user.
var RuleSend = Rule{Key: "rl:send:", Limit: 20, Window: 10 * time.Second}

// Limiter performs rate limiting checks against Redis. A nil Limiter allows
// everything, which keeps dev setups without Redis working.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow reports whether the identifier is within the rule's budget,
// incrementing its counter. The first increment of a window arms the expiry.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) bool {
	if l == nil || l.client == nil {
		return true
	}
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return true
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			l.client.Del(ctx, key)
			return true
		}
	}
	return int(count) <= rule.Limit
}
