// 文件: pkg/keeper/liquidation.go
// 强平机器人
//
// 架构:
//
//	┌──────────────────────────────────────────────┐
//	│              LiquidationKeeper               │
//	│                                              │
//	│  Scan (全量)      CheckCritical (高频)        │
//	│     │                   │                    │
//	│     └──── RiskIndex ────┘                    │
//	│                │                             │
//	│        Liquidate 任务 → worker pool          │
//	└──────────────────────────────────────────────┘
//
// - Scan: 分页读出每个 vAMM 的全部仓位，并发查询保证金率，重建风险索引
// - CheckCritical: 只重查 Critical 级别，价格一动就可能跌破 MMR
// - 执行: errgroup 限流的 worker pool 发 Liquidate，失败 (比如已被别人平掉) 只记日志

package keeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vperp.com/pkg/engine"
	"vperp.com/pkg/fixed"
)

const (
	DefaultScanInterval     = 10 * time.Second
	DefaultCriticalInterval = time.Second
	DefaultWorkers          = 4
)

// LiquidationConfig 强平机器人配置
type LiquidationConfig struct {
	Engine           string
	Liquidator       string // 发交易的地址，拿清算奖励
	ScanInterval     time.Duration
	CriticalInterval time.Duration
	Workers          int
}

// LiquidationTask 强平任务
type LiquidationTask struct {
	Vamm      string
	Trader    string
	RiskRatio float64
}

// LiquidationStats 统计
type LiquidationStats struct {
	Warning   int
	Danger    int
	Critical  int
	Scanned   int
	Submitted int
	Failed    int
}

// LiquidationKeeper 强平机器人
type LiquidationKeeper struct {
	chain  Chain
	cfg    LiquidationConfig
	index  *RiskIndex
	logger *zap.Logger

	mu    sync.Mutex
	stats LiquidationStats
}

func NewLiquidationKeeper(c Chain, cfg LiquidationConfig, logger *zap.Logger) *LiquidationKeeper {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.CriticalInterval <= 0 {
		cfg.CriticalInterval = DefaultCriticalInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiquidationKeeper{
		chain:  c,
		cfg:    cfg,
		index:  NewRiskIndex(),
		logger: logger.Named("liquidation"),
	}
}

// Run 全量扫描和 Critical 检查两个循环
func (k *LiquidationKeeper) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return Loop(ctx, "liquidation_scan", k.cfg.ScanInterval, k.logger, func(ctx context.Context) error {
			_, err := k.Scan(ctx)
			return err
		})
	})
	g.Go(func() error {
		return Loop(ctx, "liquidation_critical", k.cfg.CriticalInterval, k.logger, func(ctx context.Context) error {
			_, err := k.CheckCritical(ctx)
			return err
		})
	})
	return g.Wait()
}

// Index 风险索引 (只读使用)
func (k *LiquidationKeeper) Index() *RiskIndex { return k.index }

func (k *LiquidationKeeper) Stats() LiquidationStats {
	k.mu.Lock()
	defer k.mu.Unlock()
	s := k.stats
	s.Warning = len(k.index.GetByLevel(RiskLevelWarning))
	s.Danger = len(k.index.GetByLevel(RiskLevelDanger))
	s.Critical = len(k.index.GetByLevel(RiskLevelCritical))
	return s
}

// =============================================================================
// 扫描
// =============================================================================

// Scan 全量扫描，返回成功提交的强平数
func (k *LiquidationKeeper) Scan(ctx context.Context) (int, error) {
	start := time.Now()
	cfg, vamms, err := listVamms(k.chain, k.cfg.Engine)
	if err != nil {
		return 0, err
	}

	var positions []engine.Position
	for _, v := range vamms {
		err := eachPosition(k.chain, k.cfg.Engine, v, func(p engine.Position) error {
			positions = append(positions, p)
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	risks, err := k.assess(ctx, positions, cfg.MaintenanceMarginRatio)
	if err != nil {
		return 0, err
	}
	k.index.Replace(risks)

	var tasks []LiquidationTask
	for _, r := range risks {
		if r.Level == RiskLevelLiquidate {
			tasks = append(tasks, LiquidationTask{Vamm: r.Vamm, Trader: r.Trader, RiskRatio: r.RiskRatio})
		}
	}
	n := k.execute(ctx, tasks)

	k.mu.Lock()
	k.stats.Scanned += len(positions)
	k.mu.Unlock()
	k.logger.Debug("scan completed",
		zap.Int("positions", len(positions)),
		zap.Int("high_risk", k.index.TotalCount()),
		zap.Int("liquidate", len(tasks)),
		zap.Duration("elapsed", time.Since(start)))
	return n, nil
}

// CheckCritical 只重查 Critical 级别
func (k *LiquidationKeeper) CheckCritical(ctx context.Context) (int, error) {
	critical := k.index.GetByLevel(RiskLevelCritical)
	if len(critical) == 0 {
		return 0, nil
	}
	cfg, err := query[engine.Config](k.chain, k.cfg.Engine, engine.ConfigQuery{})
	if err != nil {
		return 0, err
	}

	positions := make([]engine.Position, 0, len(critical))
	for _, r := range critical {
		pos, err := query[engine.Position](k.chain, k.cfg.Engine, engine.PositionQuery{Vamm: r.Vamm, Trader: r.Trader})
		if errors.Is(err, engine.ErrNoPosition) {
			k.index.Update(PositionRisk{Vamm: r.Vamm, Trader: r.Trader, Level: RiskLevelSafe})
			continue
		}
		if err != nil {
			return 0, err
		}
		positions = append(positions, pos)
	}

	risks, err := k.assess(ctx, positions, cfg.MaintenanceMarginRatio)
	if err != nil {
		return 0, err
	}
	var tasks []LiquidationTask
	for _, r := range risks {
		k.index.Update(r)
		if r.Level == RiskLevelLiquidate {
			tasks = append(tasks, LiquidationTask{Vamm: r.Vamm, Trader: r.Trader, RiskRatio: r.RiskRatio})
		}
	}
	return k.execute(ctx, tasks), nil
}

// assess 并发查询保证金率
func (k *LiquidationKeeper) assess(ctx context.Context, positions []engine.Position, mmr fixed.Uint) ([]PositionRisk, error) {
	now := int64(k.chain.Block().Time)
	out := make([]PositionRisk, len(positions))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(k.cfg.Workers)
	for i, p := range positions {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ratio, err := query[fixed.Integer](k.chain, k.cfg.Engine, engine.MarginRatio{Vamm: p.Vamm, Trader: p.Trader})
			if err != nil {
				return err
			}
			out[i] = AssessRisk(p, ratio, mmr, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// 执行
// =============================================================================

// execute worker pool 发强平交易，返回成功数
func (k *LiquidationKeeper) execute(ctx context.Context, tasks []LiquidationTask) int {
	if len(tasks) == 0 {
		return 0
	}
	var ok atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(k.cfg.Workers)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			_, err := k.chain.Execute(k.cfg.Liquidator, k.cfg.Engine, engine.Liquidate{Vamm: task.Vamm, Trader: task.Trader})
			if err != nil {
				k.mu.Lock()
				k.stats.Failed++
				k.mu.Unlock()
				k.logger.Warn("liquidation failed",
					zap.String("vamm", task.Vamm), zap.String("trader", task.Trader), zap.Error(err))
				return nil
			}
			ok.Add(1)
			k.mu.Lock()
			k.stats.Submitted++
			k.mu.Unlock()
			k.logger.Info("liquidation submitted",
				zap.String("vamm", task.Vamm), zap.String("trader", task.Trader), zap.Float64("risk_ratio", task.RiskRatio))
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load())
}
