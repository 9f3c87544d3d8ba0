package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginLimiter bounds login attempts per username/address pair using a
// fixed window counter in Redis. It protects the bcrypt comparison path
// from credential stuffing; it is not applied to refresh or logout.
type LoginLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewLoginLimiter creates a limiter allowing limit attempts per window.
func NewLoginLimiter(client *redis.Client, limit int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
	}
}

// Allow records an attempt and reports whether it is within the limit,
// together with the remaining window when it is not. Redis being unreachable
// fails open: authentication availability wins over throttling.
func (l *LoginLimiter) Allow(ctx context.Context, username, addr string) (bool, time.Duration, error) {
	key := fmt.Sprintf("authgate:login:%s:%s", username, addr)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return true, 0, fmt.Errorf("incr login counter: %w", err)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return true, 0, fmt.Errorf("set login counter ttl: %w", err)
		}
	}

	if count > l.limit {
		ttl, err := l.client.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = l.window
		}
		return false, ttl, nil
	}

	return true, 0, nil
}

// Reset clears the counter for a username/address pair. Called after a
// successful login so a legitimate user is not penalized for earlier typos.
func (l *LoginLimiter) Reset(ctx context.Context, username, addr string) error {
	key := fmt.Sprintf("authgate:login:%s:%s", username, addr)
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset login counter: %w", err)
	}
	return nil
}
