package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Action identifies what the subject is trying to do; each action gets its
// own counter window.
type Action string

const (
	ActionCheckoutCreate Action = "checkout_create"
	ActionPlanChange     Action = "plan_change"
	ActionBillingResync  Action = "billing_resync"
)

// Config bounds how often a subject may perform an action: Attempts per
// Window, shared across all running instances.
type Config struct {
	Attempts int
	Window   time.Duration
}

// DefaultCheckoutConfig matches the checkout-session creation limit:
// 2 attempts per 30 seconds per user.
func DefaultCheckoutConfig() Config {
	return Config{Attempts: 2, Window: 30 * time.Second}
}

// Limiter is a Redis-backed fixed-window rate limiter. The counter lives in
// a single shared Redis so the limit holds across every running instance;
// an in-process map would silently multiply the allowance by the instance
// count.
type Limiter struct {
	redis  *redis.Client
	config Config
	prefix string
}

// New creates a limiter on the shared Redis client.
func New(client *redis.Client, config Config, prefix string) *Limiter {
	if config.Attempts <= 0 {
		config.Attempts = 2
	}
	if config.Window <= 0 {
		config.Window = 30 * time.Second
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &Limiter{redis: client, config: config, prefix: prefix}
}

// TryAcquire reports whether the subject may perform the action now. The
// INCR+EXPIRE pair runs in one pipeline so concurrent instances observe a
// single atomic counter. On a store error the limiter fails open: blocking
// a paying customer because Redis hiccupped is worse than letting one
// extra checkout through.
func (l *Limiter) TryAcquire(ctx context.Context, subjectID uint, action Action) bool {
	key := l.key(subjectID, action)

	pipe := l.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("Warning: rate limiter store error for %s, failing open: %v", key, err)
		return true
	}

	return incr.Val() <= int64(l.config.Attempts)
}

// Remaining returns how many attempts are left in the current window.
func (l *Limiter) Remaining(ctx context.Context, subjectID uint, action Action) (int, error) {
	count, err := l.redis.Get(ctx, l.key(subjectID, action)).Int()
	if err == redis.Nil {
		return l.config.Attempts, nil
	} else if err != nil {
		return 0, err
	}

	remaining := l.config.Attempts - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the counter for a subject+action (admin/test use).
func (l *Limiter) Reset(ctx context.Context, subjectID uint, action Action) error {
	return l.redis.Del(ctx, l.key(subjectID, action)).Err()
}

func (l *Limiter) key(subjectID uint, action Action) string {
	return fmt.Sprintf("%s:%s:%d", l.prefix, action, subjectID)
}
