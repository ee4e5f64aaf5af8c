package burst

import (
	"testing"
	"time"

	"github.com/relaytext/burstguard/internal/domain"
)

func testConfig() domain.BurstConfig {
	cfg := domain.DefaultBurstConfig("tenant-1")
	cfg.Window = 180 * time.Second
	cfg.MessageThreshold = 3
	cfg.HighSeverityThreshold = 5
	cfg.RapidGapMin = 5 * time.Second
	cfg.RapidGapMax = 29 * time.Second
	return cfg
}

func entriesAt(base time.Time, fingerprint string, offsets ...time.Duration) []domain.TrackingEntry {
	entries := make([]domain.TrackingEntry, 0, len(offsets))
	for _, offset := range offsets {
		entries = append(entries, domain.TrackingEntry{SentAt: base.Add(offset), Fingerprint: fingerprint})
	}
	return entries
}

func TestAnalyzeIdenticalRapidBurst(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := entriesAt(base, Fingerprint("your table is ready"), 0, 8*time.Second, 16*time.Second)

	analysis := Analyze(entries, testConfig())

	if !analysis.IsBurst {
		t.Fatalf("expected burst at threshold count")
	}
	if analysis.MessageCount != 3 {
		t.Fatalf("expected count 3, got %d", analysis.MessageCount)
	}
	if analysis.AvgGapSeconds != 8 {
		t.Fatalf("expected avg gap 8s, got %v", analysis.AvgGapSeconds)
	}
	if !analysis.HasIdenticalContent {
		t.Fatalf("expected identical content to be detected")
	}
	if analysis.Severity != domain.SeverityHigh {
		t.Fatalf("expected high severity, got %s", analysis.Severity)
	}
	if analysis.LikelyCause != domain.CauseTaskRetry {
		t.Fatalf("expected task_retry cause, got %s", analysis.LikelyCause)
	}
}

func TestAnalyzeBelowThresholdIsNotBurst(t *testing.T) {
	base := time.Now().UTC()
	entries := entriesAt(base, "fp-a", 0, 10*time.Second)

	analysis := Analyze(entries, testConfig())
	if analysis.IsBurst {
		t.Fatalf("two sends should never be a burst at threshold 3")
	}
}

func TestAnalyzeCriticalRequiresAllThreeSignals(t *testing.T) {
	base := time.Now().UTC()
	cfg := testConfig()

	// Five identical sends 10s apart: count, identical and rapid gap all hit.
	entries := entriesAt(base, "fp-same", 0, 10*time.Second, 20*time.Second, 30*time.Second, 40*time.Second)
	analysis := Analyze(entries, cfg)
	if analysis.Severity != domain.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", analysis.Severity)
	}

	// Same shape with distinct content stays high.
	distinct := []domain.TrackingEntry{
		{SentAt: base, Fingerprint: "a"},
		{SentAt: base.Add(10 * time.Second), Fingerprint: "b"},
		{SentAt: base.Add(20 * time.Second), Fingerprint: "c"},
		{SentAt: base.Add(30 * time.Second), Fingerprint: "d"},
		{SentAt: base.Add(40 * time.Second), Fingerprint: "e"},
	}
	analysis = Analyze(distinct, cfg)
	if analysis.Severity != domain.SeverityHigh {
		t.Fatalf("expected high severity without identical content, got %s", analysis.Severity)
	}
	if analysis.HasIdenticalContent {
		t.Fatalf("distinct fingerprints must not flag identical content")
	}
}

func TestAnalyzeHighOnCountAlone(t *testing.T) {
	base := time.Now().UTC()
	cfg := testConfig()

	// Five distinct sends 35s apart: outside the rapid-gap range, severity
	// escalates on count alone.
	entries := []domain.TrackingEntry{
		{SentAt: base, Fingerprint: "a"},
		{SentAt: base.Add(35 * time.Second), Fingerprint: "b"},
		{SentAt: base.Add(70 * time.Second), Fingerprint: "c"},
		{SentAt: base.Add(105 * time.Second), Fingerprint: "d"},
		{SentAt: base.Add(140 * time.Second), Fingerprint: "e"},
	}
	analysis := Analyze(entries, cfg)
	if analysis.Severity != domain.SeverityHigh {
		t.Fatalf("expected high severity at high threshold count, got %s", analysis.Severity)
	}
}

func TestAnalyzeShouldBlock(t *testing.T) {
	base := time.Now().UTC()
	cfg := testConfig()
	cfg.AutoBlockEnabled = true
	cfg.AutoBlockThreshold = 5

	entries := entriesAt(base, "fp", 0, time.Second, 2*time.Second, 3*time.Second)
	if Analyze(entries, cfg).ShouldBlock {
		t.Fatalf("should not block below auto-block threshold")
	}
	entries = append(entries, domain.TrackingEntry{SentAt: base.Add(4 * time.Second), Fingerprint: "fp"})
	if !Analyze(entries, cfg).ShouldBlock {
		t.Fatalf("expected block at auto-block threshold")
	}

	cfg.AutoBlockEnabled = false
	if Analyze(entries, cfg).ShouldBlock {
		t.Fatalf("auto-block disabled must never block")
	}
}

func TestClassifyCauseOrdering(t *testing.T) {
	cases := []struct {
		name         string
		count        int
		avgGap       time.Duration
		hasIdentical bool
		want         string
	}{
		{"sub-second duplicates", 4, time.Second, true, domain.CauseDuplicateWebhook},
		{"identical under retry gap", 4, 10 * time.Second, true, domain.CauseTaskRetry},
		{"distinct fast wins nothing until count", 12, 40 * time.Second, false, domain.CauseToolLoop},
		{"callback window", 4, 20 * time.Second, false, domain.CauseCallbackConfusion},
		{"slow distinct", 4, 60 * time.Second, false, domain.CauseUnknown},
		// The duplicate-webhook rule outranks task_retry even with identical content.
		{"duplicate beats retry", 4, 2 * time.Second, true, domain.CauseDuplicateWebhook},
	}
	for _, tc := range cases {
		if got := classifyCause(tc.count, tc.avgGap, tc.hasIdentical); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestPruneWindowBoundary(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	window := 180 * time.Second

	// Sends every 40s: by the sixth send (t=200s) the first (t=0) is 200s
	// old and must drop; the second (t=40s, age 160s) stays.
	var entries []domain.TrackingEntry
	for i := 0; i < 6; i++ {
		entries = append(entries, domain.TrackingEntry{
			SentAt:      base.Add(time.Duration(i) * 40 * time.Second),
			Fingerprint: Fingerprint("msg"),
		})
	}
	pruned := PruneWindow(entries, window)
	if len(pruned) != 5 {
		t.Fatalf("expected 5 entries after pruning, got %d", len(pruned))
	}
	if !pruned[0].SentAt.Equal(base.Add(40 * time.Second)) {
		t.Fatalf("expected oldest kept entry at t=40s, got %v", pruned[0].SentAt)
	}

	// An entry exactly at the boundary (age == window) is kept.
	boundary := []domain.TrackingEntry{
		{SentAt: base, Fingerprint: "a"},
		{SentAt: base.Add(window), Fingerprint: "b"},
	}
	if got := PruneWindow(boundary, window); len(got) != 2 {
		t.Fatalf("boundary entry should be kept, got %d entries", len(got))
	}
}

func TestFingerprintNormalization(t *testing.T) {
	a := Fingerprint("  Your TABLE is ready  ")
	b := Fingerprint("your table   is ready")
	if a != b {
		t.Fatalf("normalized variants should share a fingerprint")
	}
	if a == Fingerprint("your table is ready!") {
		t.Fatalf("different content should not collide")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256 fingerprint, got length %d", len(a))
	}
}
