package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/relaytext/burstguard/internal/burst"
	"github.com/relaytext/burstguard/internal/domain"
)

const defaultRedisTimeout = 250 * time.Millisecond

// RedisTracker keeps per-recipient send lists in a shared Redis cache. Keys
// carry a TTL equal to the detection window so idle recipients self-expire.
// The read-modify-write is not atomic across concurrent senders; an
// occasional off-by-one count is accepted (the incident store's monotonic
// escalation absorbs it).
type RedisTracker struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedisTracker connects to Redis and verifies it is reachable.
func NewRedisTracker(addr, password string, db int, timeout time.Duration, logger *slog.Logger) (*RedisTracker, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisTracker{
		client:  client,
		logger:  logger.With("component", "tracker_redis"),
		prefix:  "burstguard:recent:",
		timeout: timeout,
	}, nil
}

// Record appends the entry to the recipient's list, prunes to the window and
// writes back with TTL = window. Every Redis failure is classified as
// ErrCacheUnavailable so the selector can fall back.
func (t *RedisTracker) Record(ctx context.Context, tenantID, toNumber string, entry domain.TrackingEntry, window time.Duration) ([]domain.TrackingEntry, error) {
	if window <= 0 {
		window = domain.DefaultWindow
	}
	opCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	key := t.key(tenantID, toNumber)
	raw, err := t.client.Get(opCtx, key).Bytes()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrCacheUnavailable, key, err)
	}

	var entries []domain.TrackingEntry
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			// A corrupt value is dropped rather than poisoning every
			// subsequent check for this recipient.
			t.logger.Warn("discarding unreadable tracking list", "key", key, "error", err)
			entries = nil
		}
	}
	entries = append(entries, entry)
	entries = burst.PruneWindow(entries, window)

	payload, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", ErrCacheUnavailable, key, err)
	}
	if err := t.client.Set(opCtx, key, payload, window).Err(); err != nil {
		return nil, fmt.Errorf("%w: set %s: %v", ErrCacheUnavailable, key, err)
	}
	return entries, nil
}

// Close releases the Redis connection.
func (t *RedisTracker) Close() {
	if t.client != nil {
		_ = t.client.Close()
	}
}

func (t *RedisTracker) key(tenantID, toNumber string) string {
	return t.prefix + tenantID + ":" + toNumber
}
