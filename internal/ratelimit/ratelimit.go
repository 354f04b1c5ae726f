// Package ratelimit throttles failed login attempts per account using a
// fixed window counter in Redis.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "projectflow:auth:login_failures:"

// recordFailure increments the counter and starts the window on the first
// failure, atomically.
var recordFailure = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Config configures a LoginLimiter.
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

// LoginLimiter counts failed logins per key. Redis failures are logged and
// treated as "allowed" so an outage of the cache never blocks sign-in.
type LoginLimiter struct {
	client      redis.Cmdable
	maxAttempts int
	window      time.Duration
	logger      *slog.Logger
}

// NewLoginLimiter creates a limiter backed by client.
func NewLoginLimiter(client redis.Cmdable, cfg Config, logger *slog.Logger) *LoginLimiter {
	return &LoginLimiter{
		client:      client,
		maxAttempts: cfg.MaxAttempts,
		window:      cfg.Window,
		logger:      logger,
	}
}

// Allow reports whether another attempt for key may be checked.
func (l *LoginLimiter) Allow(ctx context.Context, key string) bool {
	if l.maxAttempts <= 0 {
		return true
	}
	n, err := l.client.Get(ctx, redisKey(key)).Int()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			l.logger.WarnContext(ctx, "login throttle unavailable, allowing attempt", slog.String("error", err.Error()))
		}
		return true
	}
	return n < l.maxAttempts
}

// RecordFailure counts a failed attempt for key.
func (l *LoginLimiter) RecordFailure(ctx context.Context, key string) {
	if l.maxAttempts <= 0 {
		return
	}
	window := strconv.FormatInt(l.window.Milliseconds(), 10)
	if err := recordFailure.Run(ctx, l.client, []string{redisKey(key)}, window).Err(); err != nil {
		l.logger.WarnContext(ctx, "failed to record login failure", slog.String("error", err.Error()))
	}
}

// Reset clears the counter for key, typically after a successful login.
func (l *LoginLimiter) Reset(ctx context.Context, key string) {
	if l.maxAttempts <= 0 {
		return
	}
	if err := l.client.Del(ctx, redisKey(key)).Err(); err != nil {
		l.logger.WarnContext(ctx, "failed to reset login failures", slog.String("error", err.Error()))
	}
}

// redisKey hashes key so account identifiers are not stored in clear text.
func redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return keyPrefix + hex.EncodeToString(sum[:16])
}

// Nop never throttles. It is used when Redis is not configured.
type Nop struct{}

func (Nop) Allow(context.Context, string) bool    { return true }
func (Nop) RecordFailure(context.Context, string) {}
func (Nop) Reset(context.Context, string)         {}
