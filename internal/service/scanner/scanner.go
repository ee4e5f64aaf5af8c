package scanner

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/relaytext/burstguard/internal/burst"
	"github.com/relaytext/burstguard/internal/domain"
	"github.com/relaytext/burstguard/internal/repository"
	"github.com/relaytext/burstguard/internal/service/gate"
)

const (
	defaultScanInterval = 15 * time.Minute
	defaultScanWindow   = 30 * time.Minute
	defaultStaleAfter   = 2 * time.Hour
	defaultHistoryLimit = 20
)

// IncidentStore is the slice of the incident service the scanner drives.
type IncidentStore interface {
	Upsert(ctx context.Context, tenantID, toNumber string, analysis domain.BurstAnalysis) (*domain.Incident, error)
	AutoResolveStale(ctx context.Context, cutoff time.Time) (int, error)
}

// ScanReport summarizes one reconciliation pass for observability.
type ScanReport struct {
	NewIncidents int `json:"new_incidents"`
	AutoResolved int `json:"auto_resolved"`
	Errors       int `json:"errors"`
}

// Scanner periodically re-aggregates recent outbound traffic straight from
// durable storage, catching bursts the real-time gate missed and retiring
// incidents that have gone quiet. A tenant failure is logged and the scan
// moves on; shutdown is honored between tenants.
type Scanner struct {
	tenants   repository.TenantRepository
	history   repository.MessageHistoryRepository
	incidents repository.IncidentRepository
	store     IncidentStore
	resolver  *gate.Resolver
	logger    *slog.Logger

	interval     time.Duration
	scanWindow   time.Duration
	staleAfter   time.Duration
	historyLimit int

	now func() time.Time
}

// New constructs the reconciliation scanner. Zero durations fall back to the
// documented defaults.
func New(tenants repository.TenantRepository, history repository.MessageHistoryRepository, incidents repository.IncidentRepository, store IncidentStore, resolver *gate.Resolver, logger *slog.Logger, interval, scanWindow, staleAfter time.Duration, historyLimit int) *Scanner {
	if tenants == nil || history == nil || incidents == nil || store == nil || resolver == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if scanWindow <= 0 {
		scanWindow = defaultScanWindow
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		tenants:      tenants,
		history:      history,
		incidents:    incidents,
		store:        store,
		resolver:     resolver,
		logger:       logger.With("component", "reconciliation_scanner"),
		interval:     interval,
		scanWindow:   scanWindow,
		staleAfter:   staleAfter,
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// Run executes the scan loop until the context is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("reconciliation scanner started", "interval", s.interval, "scan_window", s.scanWindow)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation scanner stopped")
			return
		case <-ticker.C:
			report := s.RunScan(ctx)
			s.logger.Info("reconciliation scan finished",
				"new_incidents", report.NewIncidents, "auto_resolved", report.AutoResolved, "errors", report.Errors)
		}
	}
}

// RunScan performs one full reconciliation pass. Also invoked directly by the
// HTTP trigger; duplicate incident creation is prevented by the single
// active-incident-per-pair invariant.
func (s *Scanner) RunScan(ctx context.Context) ScanReport {
	var report ScanReport
	now := s.now().UTC()

	// Stale incidents are retired even when the tenant directory is down;
	// the resolution pass is global and does not depend on the tenant list.
	tenantIDs, err := s.tenants.ListActiveTenantIDs(ctx)
	if err != nil {
		s.logger.Warn("failed to list active tenants", "error", err)
		report.Errors++
	}

	for _, tenantID := range tenantIDs {
		select {
		case <-ctx.Done():
			s.logger.Info("scan interrupted by shutdown", "remaining_from", tenantID)
			return report
		default:
		}
		created, failed := s.scanTenant(ctx, tenantID, now)
		report.NewIncidents += created
		report.Errors += failed
	}

	resolved, err := s.store.AutoResolveStale(ctx, now.Add(-s.staleAfter))
	if err != nil {
		s.logger.Warn("auto-resolve pass failed", "error", err)
		report.Errors++
	}
	report.AutoResolved = resolved
	return report
}

func (s *Scanner) scanTenant(ctx context.Context, tenantID string, now time.Time) (created, failed int) {
	cfg := s.resolver.Resolve(ctx, tenantID)
	if !cfg.Enabled {
		return 0, 0
	}

	volumes, err := s.history.AggregateOutboundByRecipient(ctx, tenantID, now.Add(-s.scanWindow), cfg.MessageThreshold)
	if err != nil {
		s.logger.Warn("tenant traffic aggregation failed", "tenant_id", tenantID, "error", err)
		return 0, 1
	}

	for _, vol := range volumes {
		existing, err := s.incidents.GetActiveIncident(ctx, tenantID, vol.ToNumber)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("active incident lookup failed", "tenant_id", tenantID, "to_number", vol.ToNumber, "error", err)
			failed++
			continue
		}
		// A pair the gate already flagged recently needs no backfill.
		if existing != nil && existing.LastMessageAt.After(now.Add(-s.scanWindow)) {
			continue
		}

		messages, err := s.history.ListOutboundMessages(ctx, tenantID, vol.ToNumber, now.Add(-cfg.Window), s.historyLimit)
		if err != nil {
			s.logger.Warn("history fetch failed", "tenant_id", tenantID, "to_number", vol.ToNumber, "error", err)
			failed++
			continue
		}
		entries := make([]domain.TrackingEntry, 0, len(messages))
		for _, msg := range messages {
			entries = append(entries, domain.TrackingEntry{
				SentAt:      msg.SentAt,
				Fingerprint: burst.Fingerprint(msg.Body),
			})
		}
		entries = burst.PruneWindow(entries, cfg.Window)
		if len(entries) < cfg.MessageThreshold {
			continue
		}

		analysis := burst.Analyze(entries, cfg)
		if _, err := s.store.Upsert(ctx, tenantID, vol.ToNumber, analysis); err != nil {
			s.logger.Warn("scan incident upsert failed", "tenant_id", tenantID, "to_number", vol.ToNumber, "error", err)
			failed++
			continue
		}
		if existing == nil {
			created++
			s.logger.Info("scan created incident missed by gate",
				"tenant_id", tenantID, "to_number", vol.ToNumber, "count", analysis.MessageCount, "severity", analysis.Severity)
		}
	}
	return created, failed
}
