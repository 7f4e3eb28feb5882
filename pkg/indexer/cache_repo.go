// 文件: pkg/indexer/cache_repo.go
// 仓位 Redis 缓存层
//
// 【设计模式】装饰器模式
// - 包装底层 PositionRepository，API 读仓位先走 Redis
//
// 【缓存策略】
// - 读: 先查 Redis，miss 则查 DB 并回填
// - 写: 先写 DB，成功后删除缓存 (Cache Aside)
// - 不缓存"不存在"，清算后仓位被删，负缓存会让 API 读到旧状态

package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ PositionRepository = (*CachedPositionRepository)(nil)

const (
	posCachePrefix = "vperp:pos:"

	// 单个仓位: vperp:pos:{vamm}:{trader}
	posCacheKey = posCachePrefix + "%s:%s"

	// 交易者的仓位列表: vperp:pos:trader:{trader}
	traderCacheKey = posCachePrefix + "trader:%s"

	posCacheTTL    = 10 * time.Minute
	traderCacheTTL = time.Minute
)

// CachedPositionRepository Redis 缓存装饰器
type CachedPositionRepository struct {
	repo   PositionRepository
	redis  *redis.Client
	logger *zap.Logger
}

// NewCachedPositionRepository
//
//	gormRepo := NewGormRepository(db)
//	cached := NewCachedPositionRepository(gormRepo, rdb, logger)
func NewCachedPositionRepository(repo PositionRepository, rds *redis.Client, logger *zap.Logger) *CachedPositionRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedPositionRepository{repo: repo, redis: rds, logger: logger.Named("position-cache")}
}

// =============================================================================
// 读
// =============================================================================

func (r *CachedPositionRepository) Get(ctx context.Context, vamm, trader string) (*PositionRecord, error) {
	key := fmt.Sprintf(posCacheKey, vamm, trader)

	if data, err := r.redis.Get(ctx, key).Bytes(); err == nil {
		var pos PositionRecord
		if json.Unmarshal(data, &pos) == nil {
			return &pos, nil
		}
	}

	pos, err := r.repo.Get(ctx, vamm, trader)
	if err != nil {
		return nil, err
	}
	// 同步回填，否则可能覆盖紧随其后的删缓存
	r.setCache(ctx, key, pos, posCacheTTL)
	return pos, nil
}

func (r *CachedPositionRepository) ListByTrader(ctx context.Context, trader string) ([]*PositionRecord, error) {
	key := fmt.Sprintf(traderCacheKey, trader)

	if data, err := r.redis.Get(ctx, key).Bytes(); err == nil {
		var list []*PositionRecord
		if json.Unmarshal(data, &list) == nil {
			return list, nil
		}
	}

	list, err := r.repo.ListByTrader(ctx, trader)
	if err != nil {
		return nil, err
	}
	r.setCache(ctx, key, list, traderCacheTTL)
	return list, nil
}

// ListByVamm 分页查询不缓存
func (r *CachedPositionRepository) ListByVamm(ctx context.Context, vamm string, limit, offset int) ([]*PositionRecord, error) {
	return r.repo.ListByVamm(ctx, vamm, limit, offset)
}

// =============================================================================
// 写
// =============================================================================

func (r *CachedPositionRepository) Save(ctx context.Context, pos *PositionRecord) error {
	if err := r.repo.Save(ctx, pos); err != nil {
		return err
	}
	r.invalidate(ctx, pos.Vamm, pos.Trader)
	return nil
}

func (r *CachedPositionRepository) Delete(ctx context.Context, vamm, trader string) error {
	if err := r.repo.Delete(ctx, vamm, trader); err != nil {
		return err
	}
	r.invalidate(ctx, vamm, trader)
	return nil
}

// =============================================================================
// 缓存操作
// =============================================================================

func (r *CachedPositionRepository) setCache(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		r.logger.Warn("[Cache] set failed", zap.String("key", key), zap.Error(err))
	}
}

// invalidate 删缓存失败只记日志，TTL 兜底
func (r *CachedPositionRepository) invalidate(ctx context.Context, vamm, trader string) {
	keys := []string{fmt.Sprintf(posCacheKey, vamm, trader), fmt.Sprintf(traderCacheKey, trader)}
	if err := r.redis.Del(ctx, keys...).Err(); err != nil {
		r.logger.Warn("[Cache] invalidate failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
