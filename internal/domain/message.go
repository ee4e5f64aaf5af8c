package domain

import "time"

// OutboundMessage is the narrow read model of the platform's durable message
// history. Only outbound SMS rows are ever read through it.
type OutboundMessage struct {
	TenantID string
	ToNumber string
	Body     string
	SentAt   time.Time
}

// RecipientVolume aggregates outbound message counts per recipient over a
// scan window. Consumed by the reconciliation scanner.
type RecipientVolume struct {
	ToNumber     string
	MessageCount int
	LastSentAt   time.Time
}

// TrackingEntry is one recorded send inside the detection window. Entries
// older than the window are pruned on every read.
type TrackingEntry struct {
	SentAt      time.Time `json:"sent_at"`
	Fingerprint string    `json:"fingerprint"`
}
