package burst

import (
	"time"

	"github.com/relaytext/burstguard/internal/domain"
)

// Cause heuristic boundaries, in seconds of average inter-send gap.
const (
	duplicateWebhookGapMax = 3 * time.Second
	taskRetryGapMax        = 15 * time.Second
	callbackConfusionMin   = 15 * time.Second
	callbackConfusionMax   = 30 * time.Second
	toolLoopCountMin       = 10
)

// PruneWindow drops entries older than the trailing window relative to the
// newest entry, preserving order. The input must be ascending by SentAt.
func PruneWindow(entries []domain.TrackingEntry, window time.Duration) []domain.TrackingEntry {
	if len(entries) == 0 {
		return entries
	}
	cutoff := entries[len(entries)-1].SentAt.Add(-window)
	kept := entries[:0:0]
	for _, entry := range entries {
		if entry.SentAt.Before(cutoff) {
			continue
		}
		kept = append(kept, entry)
	}
	return kept
}

// Analyze classifies an ordered entry list against a resolved config. Pure:
// no clock, no I/O. Severity rules only ever escalate; the cause heuristic is
// first-match in a fixed order.
func Analyze(entries []domain.TrackingEntry, cfg domain.BurstConfig) domain.BurstAnalysis {
	analysis := domain.BurstAnalysis{
		MessageCount: len(entries),
		Severity:     domain.SeverityWarning,
		LikelyCause:  domain.CauseUnknown,
	}
	if len(entries) == 0 {
		return analysis
	}

	analysis.FirstMessageAt = entries[0].SentAt
	analysis.LastMessageAt = entries[len(entries)-1].SentAt
	analysis.WindowSeconds = analysis.LastMessageAt.Sub(analysis.FirstMessageAt).Seconds()

	avgGap := averageGap(entries)
	analysis.AvgGapSeconds = avgGap.Seconds()

	maxRepeat := maxFingerprintRepeat(entries)
	analysis.MaxRepeatCount = maxRepeat
	analysis.HasIdenticalContent = maxRepeat >= 2
	if analysis.HasIdenticalContent && len(entries) > 0 {
		score := float64(maxRepeat) / float64(len(entries))
		analysis.ContentSimilarityScore = &score
	}

	analysis.IsBurst = len(entries) >= cfg.MessageThreshold
	if !analysis.IsBurst {
		return analysis
	}

	rapid := avgGap >= cfg.RapidGapMin && avgGap <= cfg.RapidGapMax
	identical := analysis.HasIdenticalContent && maxRepeat >= cfg.IdenticalContentThreshold

	if rapid {
		analysis.Severity = domain.SeverityHigh
	}
	if identical {
		analysis.Severity = domain.SeverityHigh
	}
	if len(entries) >= cfg.HighSeverityThreshold {
		analysis.Severity = domain.SeverityHigh
	}
	if len(entries) >= cfg.HighSeverityThreshold && identical && rapid {
		analysis.Severity = domain.SeverityCritical
	}

	analysis.ShouldBlock = cfg.AutoBlockEnabled && len(entries) >= cfg.AutoBlockThreshold
	analysis.LikelyCause = classifyCause(len(entries), avgGap, analysis.HasIdenticalContent)
	return analysis
}

func averageGap(entries []domain.TrackingEntry) time.Duration {
	if len(entries) < 2 {
		return 0
	}
	var total time.Duration
	for i := 1; i < len(entries); i++ {
		total += entries[i].SentAt.Sub(entries[i-1].SentAt)
	}
	return total / time.Duration(len(entries)-1)
}

func maxFingerprintRepeat(entries []domain.TrackingEntry) int {
	counts := make(map[string]int, len(entries))
	max := 0
	for _, entry := range entries {
		counts[entry.Fingerprint]++
		if counts[entry.Fingerprint] > max {
			max = counts[entry.Fingerprint]
		}
	}
	return max
}

func classifyCause(count int, avgGap time.Duration, hasIdentical bool) string {
	switch {
	case avgGap < duplicateWebhookGapMax:
		return domain.CauseDuplicateWebhook
	case avgGap < taskRetryGapMax && hasIdentical:
		return domain.CauseTaskRetry
	case count > toolLoopCountMin:
		return domain.CauseToolLoop
	case avgGap >= callbackConfusionMin && avgGap <= callbackConfusionMax:
		return domain.CauseCallbackConfusion
	default:
		return domain.CauseUnknown
	}
}
