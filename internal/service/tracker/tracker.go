package tracker

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/relaytext/burstguard/internal/domain"
)

// ErrCacheUnavailable classifies any fast-path failure that should cause a
// transparent fallback rather than surface to the caller.
var ErrCacheUnavailable = errors.New("tracker: cache unavailable")

// RecentSends records an outbound send and returns the ordered entry list for
// the tenant/recipient pair, pruned to the trailing window and including the
// entry just recorded.
type RecentSends interface {
	Record(ctx context.Context, tenantID, toNumber string, entry domain.TrackingEntry, window time.Duration) ([]domain.TrackingEntry, error)
}

// Selector routes tracking through the cache-backed tracker and falls back to
// the history-backed tracker on a classified cache failure. The substitution
// is invisible to the caller apart from the degraded flag.
type Selector struct {
	cache    RecentSends
	fallback RecentSends
	logger   *slog.Logger
}

// NewSelector builds a selector. cache may be nil when no cache is configured,
// in which case every call uses the fallback.
func NewSelector(cache, fallback RecentSends, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{cache: cache, fallback: fallback, logger: logger.With("component", "tracker")}
}

// Record implements RecentSends. The second return value of RecordDetailed
// reports whether the fallback path served the call.
func (s *Selector) Record(ctx context.Context, tenantID, toNumber string, entry domain.TrackingEntry, window time.Duration) ([]domain.TrackingEntry, error) {
	entries, _, err := s.RecordDetailed(ctx, tenantID, toNumber, entry, window)
	return entries, err
}

// RecordDetailed records the send and reports whether the fallback served it.
func (s *Selector) RecordDetailed(ctx context.Context, tenantID, toNumber string, entry domain.TrackingEntry, window time.Duration) ([]domain.TrackingEntry, bool, error) {
	if s.cache != nil {
		entries, err := s.cache.Record(ctx, tenantID, toNumber, entry, window)
		if err == nil {
			return entries, false, nil
		}
		if !errors.Is(err, ErrCacheUnavailable) {
			return nil, false, err
		}
		s.logger.Warn("cache tracker unavailable, using history fallback",
			"tenant_id", tenantID, "to_number", toNumber, "error", err)
	}
	if s.fallback == nil {
		return nil, true, ErrCacheUnavailable
	}
	entries, err := s.fallback.Record(ctx, tenantID, toNumber, entry, window)
	return entries, true, err
}
