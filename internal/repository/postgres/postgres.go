package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaytext/burstguard/internal/domain"
	"github.com/relaytext/burstguard/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.BurstConfigRepository    = (*Repository)(nil)
	_ repository.IncidentRepository       = (*Repository)(nil)
	_ repository.MessageHistoryRepository = (*Repository)(nil)
	_ repository.TenantRepository         = (*Repository)(nil)
)

// GetBurstConfig fetches a tenant's threshold overrides.
func (r *Repository) GetBurstConfig(ctx context.Context, tenantID string) (*domain.BurstConfigRow, error) {
	const query = `SELECT tenant_id, enabled, window_seconds, message_threshold, high_severity_threshold,
			rapid_gap_min_seconds, rapid_gap_max_seconds, identical_content_threshold,
			auto_block_enabled, auto_block_threshold, excluded_flows, updated_at
		FROM burst_configs WHERE tenant_id = $1`
	row := r.pool.QueryRow(ctx, query, tenantID)
	var cfg domain.BurstConfigRow
	if err := row.Scan(
		&cfg.TenantID,
		&cfg.Enabled,
		&cfg.WindowSeconds,
		&cfg.MessageThreshold,
		&cfg.HighSeverityThreshold,
		&cfg.RapidGapMinSeconds,
		&cfg.RapidGapMaxSeconds,
		&cfg.IdenticalContentThreshold,
		&cfg.AutoBlockEnabled,
		&cfg.AutoBlockThreshold,
		&cfg.ExcludedFlows,
		&cfg.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

const incidentColumns = `id, tenant_id, to_number, message_count, first_message_at, last_message_at,
		window_seconds, avg_gap_seconds, severity, has_identical_content, content_similarity_score,
		likely_cause, status, auto_blocked, notes, detected_at, resolved_at, updated_at`

// CreateIncident inserts a new incident row.
func (r *Repository) CreateIncident(ctx context.Context, incident *domain.Incident) error {
	const query = `INSERT INTO burst_incidents (` + incidentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := r.pool.Exec(ctx, query,
		incident.ID,
		incident.TenantID,
		incident.ToNumber,
		incident.MessageCount,
		incident.FirstMessageAt,
		incident.LastMessageAt,
		incident.WindowSeconds,
		incident.AvgGapSeconds,
		incident.Severity,
		incident.HasIdenticalContent,
		incident.ContentSimilarityScore,
		incident.LikelyCause,
		incident.Status,
		incident.AutoBlocked,
		incident.Notes,
		incident.DetectedAt,
		incident.ResolvedAt,
		incident.UpdatedAt,
	)
	return err
}

// GetActiveIncident returns the single active incident for a tenant/recipient pair.
func (r *Repository) GetActiveIncident(ctx context.Context, tenantID, toNumber string) (*domain.Incident, error) {
	const query = `SELECT ` + incidentColumns + ` FROM burst_incidents
		WHERE tenant_id = $1 AND to_number = $2 AND status = 'active'
		ORDER BY detected_at DESC LIMIT 1`
	row := r.pool.QueryRow(ctx, query, tenantID, toNumber)
	return scanIncident(row)
}

// GetIncidentByID loads a single incident.
func (r *Repository) GetIncidentByID(ctx context.Context, id string) (*domain.Incident, error) {
	const query = `SELECT ` + incidentColumns + ` FROM burst_incidents WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	return scanIncident(row)
}

// UpdateActiveIncident rewrites the mutable fields of an active incident. The
// updated_at guard makes the read-modify-write conditional; a lost race
// surfaces as ErrConflict so the caller can retry with a fresh read.
func (r *Repository) UpdateActiveIncident(ctx context.Context, incident *domain.Incident, readAt time.Time) error {
	const query = `UPDATE burst_incidents SET
			message_count = $2,
			first_message_at = $3,
			last_message_at = $4,
			window_seconds = $5,
			avg_gap_seconds = $6,
			severity = $7,
			has_identical_content = $8,
			content_similarity_score = $9,
			likely_cause = $10,
			auto_blocked = $11,
			updated_at = $12
		WHERE id = $1 AND status = 'active' AND updated_at = $13`
	tag, err := r.pool.Exec(ctx, query,
		incident.ID,
		incident.MessageCount,
		incident.FirstMessageAt,
		incident.LastMessageAt,
		incident.WindowSeconds,
		incident.AvgGapSeconds,
		incident.Severity,
		incident.HasIdenticalContent,
		incident.ContentSimilarityScore,
		incident.LikelyCause,
		incident.AutoBlocked,
		incident.UpdatedAt,
		readAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConflict
	}
	return nil
}

// ResolveIncidentsInactiveSince marks active incidents quiet past the cutoff as resolved.
func (r *Repository) ResolveIncidentsInactiveSince(ctx context.Context, cutoff time.Time, note string, resolvedAt time.Time) (int, error) {
	const query = `UPDATE burst_incidents SET
			status = 'resolved',
			notes = $2,
			resolved_at = $3,
			updated_at = $3
		WHERE status = 'active' AND last_message_at < $1`
	tag, err := r.pool.Exec(ctx, query, cutoff, note, resolvedAt)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListIncidents returns incidents matching the filter, newest first.
func (r *Repository) ListIncidents(ctx context.Context, filter domain.IncidentFilter) ([]domain.Incident, error) {
	const query = `SELECT ` + incidentColumns + ` FROM burst_incidents
		WHERE ($1 = '' OR tenant_id = $1)
			AND ($2 = '' OR status = $2)
			AND ($3 = '' OR severity = $3)
		ORDER BY detected_at DESC
		LIMIT $4`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, query, filter.TenantID, filter.Status, filter.Severity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	incidents := make([]domain.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, *incident)
	}
	return incidents, rows.Err()
}

// ListOutboundMessages reads durable outbound history for a recipient in
// ascending time order.
func (r *Repository) ListOutboundMessages(ctx context.Context, tenantID, toNumber string, since time.Time, limit int) ([]domain.OutboundMessage, error) {
	const query = `SELECT tenant_id, to_number, body, sent_at FROM messages
		WHERE tenant_id = $1 AND to_number = $2 AND direction = 'outbound' AND sent_at >= $3
		ORDER BY sent_at ASC
		LIMIT $4`
	rows, err := r.pool.Query(ctx, query, tenantID, toNumber, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]domain.OutboundMessage, 0)
	for rows.Next() {
		var msg domain.OutboundMessage
		if err := rows.Scan(&msg.TenantID, &msg.ToNumber, &msg.Body, &msg.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AggregateOutboundByRecipient groups recent outbound volume per recipient.
func (r *Repository) AggregateOutboundByRecipient(ctx context.Context, tenantID string, since time.Time, minCount int) ([]domain.RecipientVolume, error) {
	const query = `SELECT to_number, COUNT(1), MAX(sent_at) FROM messages
		WHERE tenant_id = $1 AND direction = 'outbound' AND sent_at >= $2
		GROUP BY to_number
		HAVING COUNT(1) >= $3
		ORDER BY COUNT(1) DESC`
	rows, err := r.pool.Query(ctx, query, tenantID, since, minCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	volumes := make([]domain.RecipientVolume, 0)
	for rows.Next() {
		var vol domain.RecipientVolume
		if err := rows.Scan(&vol.ToNumber, &vol.MessageCount, &vol.LastSentAt); err != nil {
			return nil, err
		}
		volumes = append(volumes, vol)
	}
	return volumes, rows.Err()
}

// ListActiveTenantIDs returns identifiers of tenants with detection-eligible traffic.
func (r *Repository) ListActiveTenantIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT id FROM tenants WHERE active = TRUE ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var incident domain.Incident
	if err := row.Scan(
		&incident.ID,
		&incident.TenantID,
		&incident.ToNumber,
		&incident.MessageCount,
		&incident.FirstMessageAt,
		&incident.LastMessageAt,
		&incident.WindowSeconds,
		&incident.AvgGapSeconds,
		&incident.Severity,
		&incident.HasIdenticalContent,
		&incident.ContentSimilarityScore,
		&incident.LikelyCause,
		&incident.Status,
		&incident.AutoBlocked,
		&incident.Notes,
		&incident.DetectedAt,
		&incident.ResolvedAt,
		&incident.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &incident, nil
}
