// 文件: pkg/indexer/cache_repo_test.go
// 需要本地 Redis，连不上就跳过

package indexer

import (
	"context"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testRedisAddr = "localhost:6379"

func setupTestRedis(t *testing.T) *redis.Client {
	rdb := redis.NewClient(&redis.Options{Addr: testRedisAddr, DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skipping test; redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestCachedPositionReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	rdb := setupTestRedis(t)
	repo := NewGormRepository(setupTestDB(t))
	cached := NewCachedPositionRepository(repo, rdb, zap.NewNop())
	ids := setupTestIDs(t)

	trader := fmt.Sprintf("cache-test-%d", ids.Next())
	key := fmt.Sprintf(posCacheKey, "vamm", trader)
	t.Cleanup(func() { rdb.Del(ctx, key, fmt.Sprintf(traderCacheKey, trader)) })

	require.NoError(t, cached.Save(ctx, &PositionRecord{ID: ids.Next(), Vamm: "vamm", Trader: trader, Side: "buy", Size: "1", Margin: "10", Notional: "10"}))

	// 写后不主动缓存
	n, err := rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := cached.Get(ctx, "vamm", trader)
	require.NoError(t, err)
	assert.Equal(t, "10", got.Margin)
	n, err = rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// 绕过装饰器改库，缓存里仍是旧值
	require.NoError(t, repo.Save(ctx, &PositionRecord{ID: ids.Next(), Vamm: "vamm", Trader: trader, Side: "buy", Size: "1", Margin: "20", Notional: "10"}))
	got, err = cached.Get(ctx, "vamm", trader)
	require.NoError(t, err)
	assert.Equal(t, "10", got.Margin)

	// 经过装饰器写则删缓存
	require.NoError(t, cached.Save(ctx, &PositionRecord{ID: ids.Next(), Vamm: "vamm", Trader: trader, Side: "buy", Size: "1", Margin: "30", Notional: "10"}))
	got, err = cached.Get(ctx, "vamm", trader)
	require.NoError(t, err)
	assert.Equal(t, "30", got.Margin)

	list, err := cached.ListByTrader(ctx, trader)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, cached.Delete(ctx, "vamm", trader))
	_, err = cached.Get(ctx, "vamm", trader)
	require.ErrorIs(t, err, ErrPositionNotFound)
	list, err = cached.ListByTrader(ctx, trader)
	require.NoError(t, err)
	assert.Empty(t, list)
}
