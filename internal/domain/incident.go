package domain

import "time"

// Incident severities, ordered by escalation rank.
const (
	SeverityWarning  = "warning"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Likely root causes for a burst pattern.
const (
	CauseDuplicateWebhook  = "duplicate_webhook"
	CauseTaskRetry         = "task_retry"
	CauseToolLoop          = "tool_loop"
	CauseCallbackConfusion = "callback_confusion"
	CauseUnknown           = "unknown"
)

// Incident lifecycle statuses.
const (
	IncidentActive   = "active"
	IncidentResolved = "resolved"
)

// SeverityRank maps a severity to its escalation rank. Unknown values rank
// lowest so a corrupt row can never suppress an escalation.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Incident records one sustained anomalous send pattern toward one
// (tenant, recipient) pair. At most one active incident exists per pair;
// its mutable fields are updated in place while active.
type Incident struct {
	ID                     string
	TenantID               string
	ToNumber               string
	MessageCount           int
	FirstMessageAt         time.Time
	LastMessageAt          time.Time
	WindowSeconds          float64
	AvgGapSeconds          float64
	Severity               string
	HasIdenticalContent    bool
	ContentSimilarityScore *float64
	LikelyCause            string
	Status                 string
	AutoBlocked            bool
	Notes                  string
	DetectedAt             time.Time
	ResolvedAt             *time.Time
	UpdatedAt              time.Time
}

// IncidentFilter narrows admin incident listings.
type IncidentFilter struct {
	TenantID string
	Status   string
	Severity string
	Limit    int
}
