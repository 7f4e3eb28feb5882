// 文件: pkg/keeper/keeper.go
// 链下机器人: 资金费结算、强平、止盈止损触发
//
// 【职责】
// 引擎本身不会自己动，到点结算资金费、扫描爆仓仓位、止盈止损触发都要靠外部交易驱动。
// 这里的三个 keeper 只通过 Chain 接口读状态、发交易，和撮合逻辑完全解耦。
//
// 【设计】
// - 每个 keeper 一个 Tick (执行一轮)，Run 按固定间隔循环调用 Tick
// - 单轮失败只记日志和指标，不退出循环
// - 多个 keeper 用 errgroup 一起跑，ctx 取消时全部退出

package keeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/engine"
	"vperp.com/pkg/insurance"
	"vperp.com/pkg/metrics"
)

// Chain keeper 对链的全部依赖，*chain.App 直接满足
type Chain interface {
	Query(contract string, req any) (any, error)
	Execute(sender, contract string, msg any, funds ...chain.Coin) (*chain.TxResult, error)
	Block() chain.BlockInfo
}

var _ Chain = (*chain.App)(nil)

// query 类型化查询
func query[T any](c Chain, contract string, req any) (T, error) {
	var zero T
	res, err := c.Query(contract, req)
	if err != nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T from %s", chain.ErrUnexpectedResponse, res, contract)
	}
	return v, nil
}

// listVamms 引擎配置 + 保险基金登记的全部 vAMM
func listVamms(c Chain, engineAddr string) (engine.Config, []string, error) {
	cfg, err := query[engine.Config](c, engineAddr, engine.ConfigQuery{})
	if err != nil {
		return engine.Config{}, nil, err
	}
	if cfg.InsuranceFund == "" {
		return cfg, nil, nil
	}
	vamms, err := query[[]string](c, cfg.InsuranceFund, insurance.GetAllVamm{})
	if err != nil {
		return engine.Config{}, nil, err
	}
	return cfg, vamms, nil
}

// eachPosition 分页遍历一个 vAMM 上的全部仓位
func eachPosition(c Chain, engineAddr, vammAddr string, fn func(engine.Position) error) error {
	next := ""
	for {
		page, err := query[engine.PositionsResponse](c, engineAddr, engine.PositionsByVamm{
			Vamm:       vammAddr,
			StartAfter: next,
			Limit:      engine.MaxQueryLimit,
		})
		if err != nil {
			return err
		}
		for _, p := range page.Positions {
			if err := fn(p); err != nil {
				return err
			}
		}
		if page.NextKey == "" {
			return nil
		}
		next = page.NextKey
	}
}

// Loop 按固定间隔执行 tick，直到 ctx 取消
func Loop(ctx context.Context, name string, interval time.Duration, logger *zap.Logger, tick func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("keeper started", zap.String("keeper", name), zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info("keeper stopped", zap.String("keeper", name))
			return nil
		case <-ticker.C:
			if err := tick(ctx); err != nil {
				metrics.KeeperRuns.WithLabelValues(name, "error").Inc()
				logger.Warn("keeper tick failed", zap.String("keeper", name), zap.Error(err))
				continue
			}
			metrics.KeeperRuns.WithLabelValues(name, "ok").Inc()
		}
	}
}
