// 文件: pkg/keeper/trigger_redis_test.go
// 需要本地 Redis，连不上就跳过

package keeper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func setupRedisIndex(t *testing.T) *RedisIndex {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skipping test; redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	// 每个测试独立前缀，不清库
	return NewRedisIndex(rdb, fmt.Sprintf("vperp-test:%d", time.Now().UnixNano()))
}

func TestRedisIndex(t *testing.T) {
	x := setupRedisIndex(t)
	testTriggerIndex(t, x)
}
