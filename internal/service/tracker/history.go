package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/relaytext/burstguard/internal/burst"
	"github.com/relaytext/burstguard/internal/domain"
	"github.com/relaytext/burstguard/internal/repository"
)

const defaultHistoryLimit = 20

// HistoryTracker reconstructs the recent-send list from durable message
// history when the cache path is unavailable. Durable writes land after the
// gate decision, so the in-flight send is appended synthetically; messages
// currently in flight from other workers are necessarily undercounted.
type HistoryTracker struct {
	history repository.MessageHistoryRepository
	limit   int
	now     func() time.Time
}

// NewHistoryTracker builds the fallback tracker. limit caps the history query
// cost per check.
func NewHistoryTracker(history repository.MessageHistoryRepository, limit int) *HistoryTracker {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &HistoryTracker{history: history, limit: limit, now: time.Now}
}

// Record implements RecentSends from durable storage.
func (t *HistoryTracker) Record(ctx context.Context, tenantID, toNumber string, entry domain.TrackingEntry, window time.Duration) ([]domain.TrackingEntry, error) {
	if window <= 0 {
		window = domain.DefaultWindow
	}
	since := t.now().Add(-window)
	messages, err := t.history.ListOutboundMessages(ctx, tenantID, toNumber, since, t.limit)
	if err != nil {
		return nil, fmt.Errorf("list outbound history: %w", err)
	}
	entries := make([]domain.TrackingEntry, 0, len(messages)+1)
	for _, msg := range messages {
		entries = append(entries, domain.TrackingEntry{
			SentAt:      msg.SentAt,
			Fingerprint: burst.Fingerprint(msg.Body),
		})
	}
	entries = append(entries, entry)
	return burst.PruneWindow(entries, window), nil
}
