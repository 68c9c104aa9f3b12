package rating

import (
	"context"
	"testing"
	"time"

	"lead_rating_engine/internal/events"
	"lead_rating_engine/internal/rating/cache"
	"lead_rating_engine/internal/rating/repository"
	"lead_rating_engine/platform/config"
	"lead_rating_engine/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleRefreshesRuleCacheOnRuleChange(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{
		CacheKeyPrefix:     "test",
		CacheResultTTL:     time.Hour,
		CacheRuleConfigTTL: time.Hour,
		CacheStatisticsTTL: time.Hour,
		BatchWorkers:       2,
	}
	store := repository.NewMemoryStore(nil)
	bus := events.NewInMemoryBus(logger.Discard())
	m := NewModuleWithStores(Stores{Rules: store, History: store, Tx: store},
		cache.NewRedisBackend(client, time.Second), bus, cfg, logger.Discard())

	assert.Equal(t, "rating", m.Name())

	_, err := m.Rules().ResetToDefaults(ctx)
	require.NoError(t, err)
	bus.Wait()

	cached, ok := m.Cache().GetRules(ctx)
	require.True(t, ok)
	assert.Len(t, cached, 7)
	assert.True(t, mr.Exists("test:rule-config:enabled:3"))
}
