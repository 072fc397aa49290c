package approvals

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type countingRuleStore struct {
	memRuleStore
	activeCalls int
}

func (c *countingRuleStore) ActiveRules(ctx context.Context, tenantID uuid.UUID) ([]Rule, error) {
	c.activeCalls++
	return c.memRuleStore.ActiveRules(ctx, tenantID)
}

func TestRuleCacheServesFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tenantID := uuid.New()
	store := &countingRuleStore{}
	rule := qtyRule("big transfers", 10, 100, time.Now().UTC())
	rule.TenantID = tenantID
	store.rules = []Rule{rule}
	cache := NewRuleCache(client, store, time.Minute)

	first, err := cache.ActiveRules(context.Background(), tenantID)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, 1, store.activeCalls)

	second, err := cache.ActiveRules(context.Background(), tenantID)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, first[0].ID, second[0].ID)
	require.Equal(t, 1, store.activeCalls)
}

func TestRuleCacheInvalidatesOnWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tenantID := uuid.New()
	store := &countingRuleStore{}
	cache := NewRuleCache(client, store, time.Minute)

	_, err := cache.ActiveRules(context.Background(), tenantID)
	require.NoError(t, err)
	require.True(t, mr.Exists("approvals:rules:"+tenantID.String()))

	created := qtyRule("big transfers", 10, 100, time.Now().UTC())
	created.TenantID = tenantID
	require.NoError(t, cache.CreateRule(context.Background(), created))
	require.False(t, mr.Exists("approvals:rules:"+tenantID.String()))

	rules, err := cache.ActiveRules(context.Background(), tenantID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, 2, store.activeCalls)
}

func TestRuleCacheFallsBackWithoutClient(t *testing.T) {
	tenantID := uuid.New()
	store := &countingRuleStore{}
	rule := qtyRule("big transfers", 10, 100, time.Now().UTC())
	rule.TenantID = tenantID
	store.rules = []Rule{rule}
	cache := NewRuleCache(nil, store, time.Minute)

	rules, err := cache.ActiveRules(context.Background(), tenantID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
}
