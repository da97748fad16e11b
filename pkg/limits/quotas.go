package limits

import (
	"context"
	"fmt"
	"maps"
	"runtime/debug"
	"time"

	"mercator-hq/sluice/pkg/config"
	"mercator-hq/sluice/pkg/limits/quota"
	"mercator-hq/sluice/pkg/limits/storage"
)

// QuotaStatus combines a caller's effective limits with today's usage.
type QuotaStatus struct {
	CallerID string       `json:"caller_id"`
	Limits   quota.Limits `json:"limits"`
	Usage    quota.Usage  `json:"usage"`

	// Source is "store", "config" or "default".
	Source string `json:"source"`
}

// Quota returns the effective quota and usage of one caller.
func (c *Coordinator) Quota(callerID string) QuotaStatus {
	c.quotaMu.Lock()
	source := "default"
	if _, ok := c.storedQuotas[callerID]; ok {
		source = "store"
	} else if _, ok := c.configQuotas[callerID]; ok {
		source = "config"
	}
	c.quotaMu.Unlock()

	return QuotaStatus{
		CallerID: callerID,
		Limits:   c.quotas.LimitsFor(callerID),
		Usage:    c.quotas.Usage(callerID),
		Source:   source,
	}
}

// Quotas returns the status of every caller with an override.
func (c *Coordinator) Quotas() []QuotaStatus {
	overrides := c.quotas.Overrides()
	statuses := make([]QuotaStatus, 0, len(overrides))
	for _, callerID := range sortedKeys(overrides) {
		statuses = append(statuses, c.Quota(callerID))
	}
	return statuses
}

// SetQuota persists a caller override and applies it immediately.
func (c *Coordinator) SetQuota(ctx context.Context, callerID string, l quota.Limits) error {
	record := &storage.QuotaRecord{
		CallerID:      callerID,
		DailyRequests: l.DailyRequests,
		DailyTokens:   l.DailyTokens,
		DailyCost:     l.DailyCost,
		UpdatedAt:     c.now().UTC(),
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.store.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save quota: %w", err)
	}

	c.quotaMu.Lock()
	c.storedQuotas[callerID] = l
	c.quotaMu.Unlock()

	c.quotas.SetLimits(callerID, l)
	c.logger.Info("caller quota updated",
		"caller", callerID,
		"daily_requests", l.DailyRequests,
		"daily_tokens", l.DailyTokens,
		"daily_cost", l.DailyCost,
	)
	return nil
}

// DeleteQuota removes a stored override. A caller that also has a
// configured override falls back to it; otherwise the defaults apply.
// It returns ErrQuotaNotFound if the caller had no stored override.
func (c *Coordinator) DeleteQuota(ctx context.Context, callerID string) error {
	existing, err := c.store.Load(ctx, callerID)
	if err != nil {
		return fmt.Errorf("failed to load quota: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("%w: %s", ErrQuotaNotFound, callerID)
	}
	if err := c.store.Delete(ctx, callerID); err != nil {
		return fmt.Errorf("failed to delete quota: %w", err)
	}

	c.quotaMu.Lock()
	delete(c.storedQuotas, callerID)
	fallback, configured := c.configQuotas[callerID]
	c.quotaMu.Unlock()

	if configured {
		c.quotas.SetLimits(callerID, fallback)
	} else {
		c.quotas.DeleteLimits(callerID)
	}
	c.logger.Info("caller quota deleted", "caller", callerID)
	return nil
}

// ApplyQuotaConfig replaces the configured defaults and caller overrides,
// typically after a configuration reload. Stored overrides keep
// precedence over configured ones.
func (c *Coordinator) ApplyQuotaConfig(q config.QuotaConfig) {
	defaults := toQuotaLimits(q.Defaults)

	c.quotaMu.Lock()
	c.configQuotas = toQuotaLimitsMap(q.Callers)
	merged := c.mergedQuotasLocked()
	c.quotaMu.Unlock()

	c.quotas.SetDefaults(defaults)
	c.quotas.ReplaceOverrides(merged)
	c.logger.Info("quota configuration applied",
		"configured_callers", len(q.Callers),
		"effective_overrides", len(merged),
	)
}

// refreshQuotas reloads stored overrides into the tracker.
func (c *Coordinator) refreshQuotas(ctx context.Context) {
	records, err := c.store.List(ctx)

	c.storeState.mu.Lock()
	c.storeState.lastErr = err
	if err == nil {
		c.storeState.lastOK = c.now()
	}
	c.storeState.mu.Unlock()

	if err != nil {
		c.logger.Warn("failed to load stored quotas, keeping previous overrides", "error", err)
		return
	}

	stored := make(map[string]quota.Limits, len(records))
	for _, r := range records {
		stored[r.CallerID] = quota.Limits{
			DailyRequests: r.DailyRequests,
			DailyTokens:   r.DailyTokens,
			DailyCost:     r.DailyCost,
		}
	}

	c.quotaMu.Lock()
	c.storedQuotas = stored
	merged := c.mergedQuotasLocked()
	c.quotaMu.Unlock()

	c.quotas.ReplaceOverrides(merged)
	c.logger.Debug("stored quotas loaded", "callers", len(stored))
}

// quotaLoop refreshes stored overrides on the configured interval.
func (c *Coordinator) quotaLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Storage.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logger.Error("quota refresh panicked",
							"panic", r,
							"stack", string(debug.Stack()),
						)
					}
				}()
				c.refreshQuotas(ctx)
			}()
		case <-ctx.Done():
			return
		}
	}
}

// storeError returns the error of the last store refresh, if any.
func (c *Coordinator) storeError() error {
	c.storeState.mu.Lock()
	defer c.storeState.mu.Unlock()
	return c.storeState.lastErr
}

// mergedQuotasLocked overlays stored overrides on configured ones.
// Caller must hold c.quotaMu.
func (c *Coordinator) mergedQuotasLocked() map[string]quota.Limits {
	merged := make(map[string]quota.Limits, len(c.configQuotas)+len(c.storedQuotas))
	maps.Copy(merged, c.configQuotas)
	maps.Copy(merged, c.storedQuotas)
	return merged
}

func toQuotaLimits(q config.QuotaLimits) quota.Limits {
	return quota.Limits{
		DailyRequests: q.DailyRequests,
		DailyTokens:   q.DailyTokens,
		DailyCost:     q.DailyCost,
	}
}

func toQuotaLimitsMap(callers map[string]config.QuotaLimits) map[string]quota.Limits {
	out := make(map[string]quota.Limits, len(callers))
	for id, q := range callers {
		out[id] = toQuotaLimits(q)
	}
	return out
}
