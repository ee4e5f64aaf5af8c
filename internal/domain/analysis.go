package domain

import "time"

// Confidence levels carried on a Decision. A degraded decision was produced
// without full detection fidelity (cache and/or store unavailable).
const (
	ConfidenceFull     = "full"
	ConfidenceDegraded = "degraded"
)

// BurstAnalysis is the pure classification of an ordered entry list against a
// resolved config.
type BurstAnalysis struct {
	IsBurst                bool
	MessageCount           int
	FirstMessageAt         time.Time
	LastMessageAt          time.Time
	WindowSeconds          float64
	AvgGapSeconds          float64
	HasIdenticalContent    bool
	MaxRepeatCount         int
	ContentSimilarityScore *float64
	Severity               string
	LikelyCause            string
	ShouldBlock            bool
}

// Decision is returned to the sending pipeline for every outbound check.
type Decision struct {
	IsBurst      bool   `json:"is_burst"`
	Severity     string `json:"severity,omitempty"`
	ShouldBlock  bool   `json:"should_block"`
	IncidentID   string `json:"incident_id,omitempty"`
	MessageCount int    `json:"message_count"`
	Confidence   string `json:"confidence"`
}
