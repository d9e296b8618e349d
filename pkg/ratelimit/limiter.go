// Package ratelimit enforces per-credential sliding-window quotas backed by
// Redis sorted sets. The limiter fails open: a broken counter store admits
// the request with a bypass marker, it never turns into a denial.
package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/models"
)

const keyPrefix = "lexor:ratelimit:"

// keys outlive the window slightly so a full window is always countable
const keyExpiryGrace = 60 * time.Second

// Result is the outcome of a quota check, carrying everything the HTTP
// layer needs for the X-RateLimit response headers.
type Result struct {
	Allowed    bool
	Uncapped   bool // unlimited tier or limiter disabled: no headers apply
	Bypassed   bool // counter store failed, request admitted anyway
	Limit      int
	Remaining  int
	Used       int
	Reset      time.Time
	RetryAfter time.Duration
}

// Limiter counts request timestamps per credential in a Redis sorted set.
type Limiter struct {
	client  *redis.Client
	window  time.Duration
	tiers   map[string]int
	enabled bool
	logger  *slog.Logger
}

// NewLimiter creates a limiter over an established Redis client.
func NewLimiter(client *redis.Client, cfg *config.RateLimitConfig) *Limiter {
	return &Limiter{
		client:  client,
		window:  cfg.Window(),
		tiers:   cfg.Tiers,
		enabled: cfg.Enabled,
		logger:  slog.With("component", "ratelimit"),
	}
}

// Check applies the sliding-window algorithm for one request:
//
//  1. Drop entries older than now-window from the credential's set.
//  2. Count what remains. At or over quota: refuse without recording.
//  3. Under quota: record the current timestamp and refresh key expiry.
//
// Denied requests never consume quota.
func (l *Limiter) Check(ctx context.Context, credentialID string, tier models.Tier) Result {
	if !l.enabled {
		return Result{Allowed: true, Uncapped: true}
	}
	quota, capped := l.tiers[string(tier)]
	if !capped {
		// The unlimited tier carries no quota entry.
		return Result{Allowed: true, Uncapped: true}
	}

	now := time.Now()
	key := keyPrefix + credentialID
	windowStart := now.Add(-l.window)

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return l.bypass(ctx, credentialID, err)
	}

	used := int(countCmd.Val())
	oldest := now
	if entries := oldestCmd.Val(); len(entries) > 0 {
		oldest = time.UnixMilli(int64(entries[0].Score))
	}
	reset := oldest.Add(l.window)

	if used >= quota {
		return Result{
			Allowed:    false,
			Limit:      quota,
			Remaining:  0,
			Used:       used,
			Reset:      reset,
			RetryAfter: time.Until(reset),
		}
	}

	record := l.client.Pipeline()
	record.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	record.Expire(ctx, key, l.window+keyExpiryGrace)
	if _, err := record.Exec(ctx); err != nil {
		return l.bypass(ctx, credentialID, err)
	}

	used++
	return Result{
		Allowed:   true,
		Limit:     quota,
		Remaining: quota - used,
		Used:      used,
		Reset:     reset,
	}
}

// bypass admits a request after a counter-store failure.
func (l *Limiter) bypass(ctx context.Context, credentialID string, err error) Result {
	l.logger.WarnContext(ctx, "Rate limit check failed, admitting request",
		"credential_id", credentialID, "error", err)
	return Result{Allowed: true, Bypassed: true}
}
