// 文件: pkg/indexer/repository.go
// 投影存储接口
//
// 【设计】
// - 接口定义在使用方 (Projector / API)，实现可以是 MySQL、SQLite 或带缓存的装饰器
// - 所有方法带 context，调用方控制超时

package indexer

import (
	"context"
	"errors"
)

var (
	ErrPositionNotFound = errors.New("position record not found")
	ErrInvalidEvent     = errors.New("invalid event")
)

// PositionRepository 仓位快照
//
// 【面试】为什么仓位用 upsert 而不是 insert + update?
// 投影可能重放 (NATS 至少一次、Kafka 重平衡)，upsert 天然幂等
type PositionRepository interface {
	Get(ctx context.Context, vamm, trader string) (*PositionRecord, error)
	ListByTrader(ctx context.Context, trader string) ([]*PositionRecord, error)
	ListByVamm(ctx context.Context, vamm string, limit, offset int) ([]*PositionRecord, error)
	Save(ctx context.Context, pos *PositionRecord) error
	Delete(ctx context.Context, vamm, trader string) error
}

// RecordRepository 只追加的流水
type RecordRepository interface {
	SaveTrade(ctx context.Context, rec *TradeRecord) error
	SaveLiquidation(ctx context.Context, rec *LiquidationRecord) error
	SaveFunding(ctx context.Context, rec *FundingRecord) error
	SaveInsuranceLog(ctx context.Context, rec *InsuranceFundLog) error

	ListTrades(ctx context.Context, trader string, limit int) ([]*TradeRecord, error)
	ListLiquidations(ctx context.Context, vamm string, limit int) ([]*LiquidationRecord, error)
	ListFunding(ctx context.Context, vamm string, limit int) ([]*FundingRecord, error)
	ListInsuranceLogs(ctx context.Context, limit int) ([]*InsuranceFundLog, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
