package gate

import (
	"context"
	"time"

	"log/slog"

	"github.com/relaytext/burstguard/internal/burst"
	"github.com/relaytext/burstguard/internal/domain"
)

// RecentSendsTracker records a send and returns the windowed entry list. The
// degraded flag reports that the durable-history fallback served the call.
type RecentSendsTracker interface {
	RecordDetailed(ctx context.Context, tenantID, toNumber string, entry domain.TrackingEntry, window time.Duration) ([]domain.TrackingEntry, bool, error)
}

// IncidentUpserter maintains the single active incident per tenant/recipient pair.
type IncidentUpserter interface {
	Upsert(ctx context.Context, tenantID, toNumber string, analysis domain.BurstAnalysis) (*domain.Incident, error)
}

// CheckRequest describes one outbound send about to leave the pipeline.
type CheckRequest struct {
	TenantID string `json:"tenant_id"`
	ToNumber string `json:"to_number"`
	Content  string `json:"content"`
	FlowType string `json:"flow_type,omitempty"`
}

// Gate is the single entry point called before every outbound send. It must
// never block a send because of an internal failure: every error path
// downgrades to a permissive decision.
type Gate struct {
	resolver  *Resolver
	tracker   RecentSendsTracker
	incidents IncidentUpserter
	logger    *slog.Logger

	now func() time.Time
}

// New constructs the outbound gate.
func New(resolver *Resolver, tracker RecentSendsTracker, incidents IncidentUpserter, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		resolver:  resolver,
		tracker:   tracker,
		incidents: incidents,
		logger:    logger.With("component", "outbound_gate"),
		now:       time.Now,
	}
}

// Check evaluates one outbound send. The current send is always recorded into
// the tracker before evaluation, so the next check sees it; a blocked attempt
// is still a data point about the pattern.
func (g *Gate) Check(ctx context.Context, req CheckRequest) domain.Decision {
	decision := domain.Decision{Confidence: domain.ConfidenceFull}

	cfg := g.resolver.Resolve(ctx, req.TenantID)
	if !cfg.Enabled || cfg.FlowExcluded(req.FlowType) {
		return decision
	}

	entry := domain.TrackingEntry{
		SentAt:      g.now().UTC(),
		Fingerprint: burst.Fingerprint(req.Content),
	}
	entries, degraded, err := g.tracker.RecordDetailed(ctx, req.TenantID, req.ToNumber, entry, cfg.Window)
	if err != nil {
		g.logger.Warn("send tracking failed, passing send through",
			"tenant_id", req.TenantID, "to_number", req.ToNumber, "error", err)
		decision.Confidence = domain.ConfidenceDegraded
		decision.MessageCount = 1
		return decision
	}
	if degraded {
		decision.Confidence = domain.ConfidenceDegraded
	}
	decision.MessageCount = len(entries)
	if len(entries) < cfg.MessageThreshold {
		return decision
	}

	analysis := burst.Analyze(entries, cfg)
	decision.IsBurst = analysis.IsBurst
	decision.Severity = analysis.Severity
	decision.ShouldBlock = analysis.ShouldBlock

	incident, err := g.incidents.Upsert(ctx, req.TenantID, req.ToNumber, analysis)
	if err != nil {
		g.logger.Warn("incident upsert failed, returning analysis without incident",
			"tenant_id", req.TenantID, "to_number", req.ToNumber, "error", err)
		decision.Confidence = domain.ConfidenceDegraded
		return decision
	}
	decision.IncidentID = incident.ID
	return decision
}
