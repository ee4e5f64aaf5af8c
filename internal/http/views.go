package httpx

import (
	"sort"
	"time"

	"github.com/relaytext/burstguard/internal/domain"
)

// incidentView is the admin-facing JSON shape of an incident.
type incidentView struct {
	ID                     string     `json:"id"`
	TenantID               string     `json:"tenant_id"`
	ToNumber               string     `json:"to_number"`
	MessageCount           int        `json:"message_count"`
	FirstMessageAt         time.Time  `json:"first_message_at"`
	LastMessageAt          time.Time  `json:"last_message_at"`
	WindowSeconds          float64    `json:"window_seconds"`
	AvgGapSeconds          float64    `json:"avg_gap_seconds"`
	Severity               string     `json:"severity"`
	HasIdenticalContent    bool       `json:"has_identical_content"`
	ContentSimilarityScore *float64   `json:"content_similarity_score,omitempty"`
	LikelyCause            string     `json:"likely_cause"`
	Status                 string     `json:"status"`
	AutoBlocked            bool       `json:"auto_blocked"`
	Notes                  string     `json:"notes,omitempty"`
	DetectedAt             time.Time  `json:"detected_at"`
	ResolvedAt             *time.Time `json:"resolved_at,omitempty"`
}

type configView struct {
	TenantID                  string   `json:"tenant_id"`
	Enabled                   bool     `json:"enabled"`
	WindowSeconds             int      `json:"window_seconds"`
	MessageThreshold          int      `json:"message_threshold"`
	HighSeverityThreshold     int      `json:"high_severity_threshold"`
	RapidGapMinSeconds        int      `json:"rapid_gap_min_seconds"`
	RapidGapMaxSeconds        int      `json:"rapid_gap_max_seconds"`
	IdenticalContentThreshold int      `json:"identical_content_threshold"`
	AutoBlockEnabled          bool     `json:"auto_block_enabled"`
	AutoBlockThreshold        int      `json:"auto_block_threshold"`
	ExcludedFlows             []string `json:"excluded_flows"`
}

func toIncidentView(incident domain.Incident) incidentView {
	return incidentView{
		ID:                     incident.ID,
		TenantID:               incident.TenantID,
		ToNumber:               incident.ToNumber,
		MessageCount:           incident.MessageCount,
		FirstMessageAt:         incident.FirstMessageAt,
		LastMessageAt:          incident.LastMessageAt,
		WindowSeconds:          incident.WindowSeconds,
		AvgGapSeconds:          incident.AvgGapSeconds,
		Severity:               incident.Severity,
		HasIdenticalContent:    incident.HasIdenticalContent,
		ContentSimilarityScore: incident.ContentSimilarityScore,
		LikelyCause:            incident.LikelyCause,
		Status:                 incident.Status,
		AutoBlocked:            incident.AutoBlocked,
		Notes:                  incident.Notes,
		DetectedAt:             incident.DetectedAt,
		ResolvedAt:             incident.ResolvedAt,
	}
}

func toIncidentViews(incidents []domain.Incident) []incidentView {
	views := make([]incidentView, 0, len(incidents))
	for _, incident := range incidents {
		views = append(views, toIncidentView(incident))
	}
	return views
}

func toConfigView(cfg domain.BurstConfig) configView {
	flows := make([]string, 0, len(cfg.ExcludedFlows))
	for flow := range cfg.ExcludedFlows {
		flows = append(flows, flow)
	}
	sort.Strings(flows)
	return configView{
		TenantID:                  cfg.TenantID,
		Enabled:                   cfg.Enabled,
		WindowSeconds:             int(cfg.Window.Seconds()),
		MessageThreshold:          cfg.MessageThreshold,
		HighSeverityThreshold:     cfg.HighSeverityThreshold,
		RapidGapMinSeconds:        int(cfg.RapidGapMin.Seconds()),
		RapidGapMaxSeconds:        int(cfg.RapidGapMax.Seconds()),
		IdenticalContentThreshold: cfg.IdenticalContentThreshold,
		AutoBlockEnabled:          cfg.AutoBlockEnabled,
		AutoBlockThreshold:        cfg.AutoBlockThreshold,
		ExcludedFlows:             flows,
	}
}
