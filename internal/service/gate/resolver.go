package gate

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/relaytext/burstguard/internal/domain"
	"github.com/relaytext/burstguard/internal/repository"
)

// Resolver produces a fully populated BurstConfig for a tenant: the stored
// override merged field-by-field over system defaults. Lookup failures yield
// defaults rather than propagating, so detection never turns off because the
// config store hiccuped.
type Resolver struct {
	configs repository.BurstConfigRepository
	logger  *slog.Logger
}

// NewResolver constructs a config resolver.
func NewResolver(configs repository.BurstConfigRepository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{configs: configs, logger: logger.With("component", "burst_config")}
}

// Resolve returns the effective config for the tenant. Never returns an error.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) domain.BurstConfig {
	cfg := domain.DefaultBurstConfig(tenantID)
	if r.configs == nil {
		return cfg
	}
	row, err := r.configs.GetBurstConfig(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			r.logger.Warn("burst config lookup failed, using defaults", "tenant_id", tenantID, "error", err)
		}
		return cfg
	}
	return mergeConfig(cfg, row)
}

// mergeConfig overlays present override fields; nil fields keep the default.
func mergeConfig(cfg domain.BurstConfig, row *domain.BurstConfigRow) domain.BurstConfig {
	if row == nil {
		return cfg
	}
	if row.Enabled != nil {
		cfg.Enabled = *row.Enabled
	}
	if row.WindowSeconds != nil && *row.WindowSeconds > 0 {
		cfg.Window = time.Duration(*row.WindowSeconds) * time.Second
	}
	if row.MessageThreshold != nil && *row.MessageThreshold > 0 {
		cfg.MessageThreshold = *row.MessageThreshold
	}
	if row.HighSeverityThreshold != nil && *row.HighSeverityThreshold > 0 {
		cfg.HighSeverityThreshold = *row.HighSeverityThreshold
	}
	if row.RapidGapMinSeconds != nil && *row.RapidGapMinSeconds >= 0 {
		cfg.RapidGapMin = time.Duration(*row.RapidGapMinSeconds) * time.Second
	}
	if row.RapidGapMaxSeconds != nil && *row.RapidGapMaxSeconds > 0 {
		cfg.RapidGapMax = time.Duration(*row.RapidGapMaxSeconds) * time.Second
	}
	if row.IdenticalContentThreshold != nil && *row.IdenticalContentThreshold > 0 {
		cfg.IdenticalContentThreshold = *row.IdenticalContentThreshold
	}
	if row.AutoBlockEnabled != nil {
		cfg.AutoBlockEnabled = *row.AutoBlockEnabled
	}
	if row.AutoBlockThreshold != nil && *row.AutoBlockThreshold > 0 {
		cfg.AutoBlockThreshold = *row.AutoBlockThreshold
	}
	if len(row.ExcludedFlows) > 0 {
		flows := make(map[string]struct{}, len(row.ExcludedFlows))
		for _, flow := range row.ExcludedFlows {
			if flow == "" {
				continue
			}
			flows[flow] = struct{}{}
		}
		cfg.ExcludedFlows = flows
	}
	cfg.UpdatedAt = row.UpdatedAt
	return cfg
}
