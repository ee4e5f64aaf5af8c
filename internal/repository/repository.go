package repository

import (
	"context"
	"time"

	"github.com/relaytext/burstguard/internal/domain"
)

// BurstConfigRepository reads per-tenant detection threshold overrides.
type BurstConfigRepository interface {
	GetBurstConfig(ctx context.Context, tenantID string) (*domain.BurstConfigRow, error)
}

// IncidentRepository persists burst incidents.
type IncidentRepository interface {
	CreateIncident(ctx context.Context, incident *domain.Incident) error
	GetActiveIncident(ctx context.Context, tenantID, toNumber string) (*domain.Incident, error)
	// UpdateActiveIncident rewrites the mutable fields of an active incident.
	// It returns ErrConflict when the row changed since it was read.
	UpdateActiveIncident(ctx context.Context, incident *domain.Incident, readAt time.Time) error
	ResolveIncidentsInactiveSince(ctx context.Context, cutoff time.Time, note string, resolvedAt time.Time) (int, error)
	GetIncidentByID(ctx context.Context, id string) (*domain.Incident, error)
	ListIncidents(ctx context.Context, filter domain.IncidentFilter) ([]domain.Incident, error)
}

// MessageHistoryRepository reads the platform's durable outbound message
// history. Never written from this service.
type MessageHistoryRepository interface {
	ListOutboundMessages(ctx context.Context, tenantID, toNumber string, since time.Time, limit int) ([]domain.OutboundMessage, error)
	AggregateOutboundByRecipient(ctx context.Context, tenantID string, since time.Time, minCount int) ([]domain.RecipientVolume, error)
}

// TenantRepository reads the platform's tenant directory.
type TenantRepository interface {
	ListActiveTenantIDs(ctx context.Context) ([]string, error)
}
