package domain

import "time"

// Detection defaults applied whenever a tenant has no override for a field.
const (
	DefaultWindow                    = 180 * time.Second
	DefaultMessageThreshold          = 3
	DefaultHighSeverityThreshold     = 5
	DefaultRapidGapMin               = 5 * time.Second
	DefaultRapidGapMax               = 29 * time.Second
	DefaultIdenticalContentThreshold = 2
	DefaultAutoBlockThreshold        = 10
)

// BurstConfig holds per-tenant burst detection thresholds. A missing tenant
// row means "use defaults", never "detection disabled".
type BurstConfig struct {
	TenantID                  string
	Enabled                   bool
	Window                    time.Duration
	MessageThreshold          int
	HighSeverityThreshold     int
	RapidGapMin               time.Duration
	RapidGapMax               time.Duration
	IdenticalContentThreshold int
	AutoBlockEnabled          bool
	AutoBlockThreshold        int
	ExcludedFlows             map[string]struct{}
	UpdatedAt                 time.Time
}

// BurstConfigRow is the raw persisted override. Nil fields fall back to the
// system default for that field when resolved.
type BurstConfigRow struct {
	TenantID                  string
	Enabled                   *bool
	WindowSeconds             *int
	MessageThreshold          *int
	HighSeverityThreshold     *int
	RapidGapMinSeconds        *int
	RapidGapMaxSeconds        *int
	IdenticalContentThreshold *int
	AutoBlockEnabled          *bool
	AutoBlockThreshold        *int
	ExcludedFlows             []string
	UpdatedAt                 time.Time
}

// DefaultBurstConfig returns the fully populated system defaults for a tenant.
func DefaultBurstConfig(tenantID string) BurstConfig {
	return BurstConfig{
		TenantID:                  tenantID,
		Enabled:                   true,
		Window:                    DefaultWindow,
		MessageThreshold:          DefaultMessageThreshold,
		HighSeverityThreshold:     DefaultHighSeverityThreshold,
		RapidGapMin:               DefaultRapidGapMin,
		RapidGapMax:               DefaultRapidGapMax,
		IdenticalContentThreshold: DefaultIdenticalContentThreshold,
		AutoBlockEnabled:          false,
		AutoBlockThreshold:        DefaultAutoBlockThreshold,
		ExcludedFlows:             map[string]struct{}{},
	}
}

// FlowExcluded reports whether the named send flow is exempt from detection.
func (c BurstConfig) FlowExcluded(flowType string) bool {
	if flowType == "" {
		return false
	}
	_, ok := c.ExcludedFlows[flowType]
	return ok
}
