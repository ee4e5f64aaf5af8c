package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/relaytext/burstguard/internal/domain"
	"github.com/relaytext/burstguard/internal/repository"
)

// EventPublisher streams incident lifecycle events to subscribed operators.
type EventPublisher interface {
	Broadcast(tenantID string, payload []byte)
}

// Event is the payload pushed over the incident stream.
type Event struct {
	Type        string    `json:"type"`
	IncidentID  string    `json:"incident_id"`
	TenantID    string    `json:"tenant_id"`
	ToNumber    string    `json:"to_number"`
	Severity    string    `json:"severity"`
	Count       int       `json:"message_count"`
	AutoBlocked bool      `json:"auto_blocked"`
	At          time.Time `json:"at"`
}

// Event types.
const (
	EventCreated   = "incident_created"
	EventUpdated   = "incident_updated"
	EventEscalated = "incident_escalated"
	EventBlocked   = "incident_blocked"
)

// Service maintains the incident lifecycle: at most one active incident per
// tenant/recipient pair, updated in place while the pattern persists.
type Service struct {
	incidents repository.IncidentRepository
	events    EventPublisher
	logger    *slog.Logger

	now func() time.Time
}

// New constructs the incident service. events may be nil.
func New(incidents repository.IncidentRepository, events EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		incidents: incidents,
		events:    events,
		logger:    logger.With("component", "incident_store"),
		now:       time.Now,
	}
}

// Upsert records the analysis against the pair's active incident, creating one
// when none exists. Severity never de-escalates and the auto-block flag never
// clears while the incident is active. A write conflict is retried once with a
// fresh read; a second conflict is logged and dropped.
func (s *Service) Upsert(ctx context.Context, tenantID, toNumber string, analysis domain.BurstAnalysis) (*domain.Incident, error) {
	existing, err := s.incidents.GetActiveIncident(ctx, tenantID, toNumber)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("load active incident: %w", err)
		}
		return s.create(ctx, tenantID, toNumber, analysis)
	}

	updated, err := s.update(ctx, existing, analysis)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return nil, err
	}

	// Lost a race with a concurrent gate or scanner update. One retry with a
	// fresh read; a second loss is dropped, not fatal.
	fresh, err := s.incidents.GetActiveIncident(ctx, tenantID, toNumber)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.create(ctx, tenantID, toNumber, analysis)
		}
		return nil, fmt.Errorf("reload incident after conflict: %w", err)
	}
	updated, err = s.update(ctx, fresh, analysis)
	if err == nil {
		return updated, nil
	}
	if errors.Is(err, repository.ErrConflict) {
		s.logger.Warn("incident update dropped after repeated conflict",
			"incident_id", fresh.ID, "tenant_id", tenantID, "to_number", toNumber)
		return fresh, nil
	}
	return nil, err
}

func (s *Service) create(ctx context.Context, tenantID, toNumber string, analysis domain.BurstAnalysis) (*domain.Incident, error) {
	now := s.now().UTC()
	incident := &domain.Incident{
		ID:                     uuid.NewString(),
		TenantID:               tenantID,
		ToNumber:               toNumber,
		MessageCount:           analysis.MessageCount,
		FirstMessageAt:         analysis.FirstMessageAt,
		LastMessageAt:          analysis.LastMessageAt,
		WindowSeconds:          analysis.WindowSeconds,
		AvgGapSeconds:          analysis.AvgGapSeconds,
		Severity:               analysis.Severity,
		HasIdenticalContent:    analysis.HasIdenticalContent,
		ContentSimilarityScore: analysis.ContentSimilarityScore,
		LikelyCause:            analysis.LikelyCause,
		Status:                 domain.IncidentActive,
		AutoBlocked:            analysis.ShouldBlock,
		DetectedAt:             now,
		UpdatedAt:              now,
	}
	if err := s.incidents.CreateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}
	s.logger.Info("burst incident created",
		"incident_id", incident.ID, "tenant_id", tenantID, "to_number", toNumber,
		"severity", incident.Severity, "count", incident.MessageCount, "cause", incident.LikelyCause)
	s.publish(EventCreated, incident)
	return incident, nil
}

func (s *Service) update(ctx context.Context, existing *domain.Incident, analysis domain.BurstAnalysis) (*domain.Incident, error) {
	readAt := existing.UpdatedAt
	incident := *existing

	incident.MessageCount = analysis.MessageCount
	incident.FirstMessageAt = analysis.FirstMessageAt
	incident.LastMessageAt = analysis.LastMessageAt
	incident.WindowSeconds = analysis.WindowSeconds
	incident.AvgGapSeconds = analysis.AvgGapSeconds
	incident.HasIdenticalContent = incident.HasIdenticalContent || analysis.HasIdenticalContent
	if analysis.ContentSimilarityScore != nil {
		incident.ContentSimilarityScore = analysis.ContentSimilarityScore
	}
	incident.LikelyCause = analysis.LikelyCause

	escalated := domain.SeverityRank(analysis.Severity) > domain.SeverityRank(incident.Severity)
	if escalated {
		incident.Severity = analysis.Severity
	}
	blocked := analysis.ShouldBlock && !incident.AutoBlocked
	incident.AutoBlocked = incident.AutoBlocked || analysis.ShouldBlock
	incident.UpdatedAt = s.now().UTC()

	if err := s.incidents.UpdateActiveIncident(ctx, &incident, readAt); err != nil {
		return nil, err
	}

	switch {
	case blocked:
		s.logger.Info("burst incident auto-blocked",
			"incident_id", incident.ID, "tenant_id", incident.TenantID, "count", incident.MessageCount)
		s.publish(EventBlocked, &incident)
	case escalated:
		s.logger.Info("burst incident escalated",
			"incident_id", incident.ID, "tenant_id", incident.TenantID, "severity", incident.Severity)
		s.publish(EventEscalated, &incident)
	default:
		s.publish(EventUpdated, &incident)
	}
	return &incident, nil
}

// AutoResolveStale resolves every active incident whose last observed message
// is older than the cutoff. Idempotent: a second pass resolves nothing.
func (s *Service) AutoResolveStale(ctx context.Context, cutoff time.Time) (int, error) {
	now := s.now().UTC()
	note := fmt.Sprintf("auto-resolved: no qualifying sends since %s", cutoff.UTC().Format(time.RFC3339))
	resolved, err := s.incidents.ResolveIncidentsInactiveSince(ctx, cutoff, note, now)
	if err != nil {
		return 0, fmt.Errorf("resolve stale incidents: %w", err)
	}
	if resolved > 0 {
		s.logger.Info("stale incidents auto-resolved", "count", resolved, "cutoff", cutoff)
	}
	return resolved, nil
}

// List returns incidents for the admin surface.
func (s *Service) List(ctx context.Context, filter domain.IncidentFilter) ([]domain.Incident, error) {
	return s.incidents.ListIncidents(ctx, filter)
}

// Get loads one incident by identifier.
func (s *Service) Get(ctx context.Context, id string) (*domain.Incident, error) {
	return s.incidents.GetIncidentByID(ctx, id)
}

func (s *Service) publish(eventType string, incident *domain.Incident) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(Event{
		Type:        eventType,
		IncidentID:  incident.ID,
		TenantID:    incident.TenantID,
		ToNumber:    incident.ToNumber,
		Severity:    incident.Severity,
		Count:       incident.MessageCount,
		AutoBlocked: incident.AutoBlocked,
		At:          incident.UpdatedAt,
	})
	if err != nil {
		return
	}
	s.events.Broadcast(incident.TenantID, payload)
}
