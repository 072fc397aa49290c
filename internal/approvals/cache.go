package approvals

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tradewind-erp/tradewind/internal/shared"
)

// RuleCache caches each tenant's active rule set in redis. Evaluation runs
// on every transfer creation while the rule set changes rarely, so reads
// dominate. Writes pass through to the underlying store and drop the
// tenant's cached set. A nil client degrades to the plain store.
type RuleCache struct {
	client *redis.Client
	store  RuleStore
	ttl    time.Duration
}

// NewRuleCache wraps store with a redis-backed active-rule cache.
func NewRuleCache(client *redis.Client, store RuleStore, ttl time.Duration) *RuleCache {
	return &RuleCache{client: client, store: store, ttl: ttl}
}

func ruleCacheKey(tenantID uuid.UUID) string {
	return "approvals:rules:" + tenantID.String()
}

// ActiveRules returns the cached rule set, loading from the store on miss.
// Redis failures fall back to the store rather than blocking evaluation.
func (c *RuleCache) ActiveRules(ctx context.Context, tenantID uuid.UUID) ([]Rule, error) {
	if c.client == nil {
		return c.store.ActiveRules(ctx, tenantID)
	}
	if payload, err := c.client.Get(ctx, ruleCacheKey(tenantID)).Bytes(); err == nil {
		var rules []Rule
		if err := json.Unmarshal(payload, &rules); err == nil {
			return rules, nil
		}
	}
	rules, err := c.store.ActiveRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(rules); err == nil {
		_ = c.client.Set(ctx, ruleCacheKey(tenantID), raw, c.ttl).Err()
	}
	return rules, nil
}

// Invalidate drops the tenant's cached rule set.
func (c *RuleCache) Invalidate(ctx context.Context, tenantID uuid.UUID) {
	if c.client == nil {
		return
	}
	_ = c.client.Del(ctx, ruleCacheKey(tenantID)).Err()
}

// CreateRule delegates and invalidates.
func (c *RuleCache) CreateRule(ctx context.Context, rule Rule) error {
	if err := c.store.CreateRule(ctx, rule); err != nil {
		return err
	}
	c.Invalidate(ctx, rule.TenantID)
	return nil
}

// GetRule delegates to the store.
func (c *RuleCache) GetRule(ctx context.Context, tenantID, ruleID uuid.UUID) (Rule, error) {
	return c.store.GetRule(ctx, tenantID, ruleID)
}

// ListRules delegates to the store.
func (c *RuleCache) ListRules(ctx context.Context, tenantID uuid.UUID, page shared.Page) ([]Rule, error) {
	return c.store.ListRules(ctx, tenantID, page)
}

// UpdateRule delegates and invalidates.
func (c *RuleCache) UpdateRule(ctx context.Context, rule Rule) error {
	if err := c.store.UpdateRule(ctx, rule); err != nil {
		return err
	}
	c.Invalidate(ctx, rule.TenantID)
	return nil
}

// ArchiveRule delegates and invalidates.
func (c *RuleCache) ArchiveRule(ctx context.Context, tenantID, ruleID, actorID uuid.UUID) error {
	if err := c.store.ArchiveRule(ctx, tenantID, ruleID, actorID); err != nil {
		return err
	}
	c.Invalidate(ctx, tenantID)
	return nil
}
