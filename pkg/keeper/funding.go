// 文件: pkg/keeper/funding.go
// 资金费机器人: 到了 next_funding_time 就以 operator 身份发 PayFunding

package keeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vperp.com/pkg/engine"
	"vperp.com/pkg/vamm"
)

const DefaultFundingInterval = 10 * time.Second

type FundingKeeper struct {
	chain    Chain
	engine   string
	operator string
	interval time.Duration
	logger   *zap.Logger
}

func NewFundingKeeper(c Chain, engineAddr, operator string, interval time.Duration, logger *zap.Logger) *FundingKeeper {
	if interval <= 0 {
		interval = DefaultFundingInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FundingKeeper{
		chain:    c,
		engine:   engineAddr,
		operator: operator,
		interval: interval,
		logger:   logger.Named("funding"),
	}
}

func (k *FundingKeeper) Run(ctx context.Context) error {
	return Loop(ctx, "funding", k.interval, k.logger, func(ctx context.Context) error {
		_, err := k.Tick(ctx)
		return err
	})
}

// Tick 返回本轮结算的 vAMM 数；单个 vAMM 失败不影响其它
func (k *FundingKeeper) Tick(ctx context.Context) (int, error) {
	_, vamms, err := listVamms(k.chain, k.engine)
	if err != nil {
		return 0, err
	}
	now := k.chain.Block().Time

	settled := 0
	for _, v := range vamms {
		if ctx.Err() != nil {
			return settled, nil
		}
		st, err := query[vamm.State](k.chain, v, vamm.StateQuery{})
		if err != nil {
			k.logger.Warn("read vamm state failed", zap.String("vamm", v), zap.Error(err))
			continue
		}
		if !st.Open || now < st.NextFundingTime {
			continue
		}
		if _, err := k.chain.Execute(k.operator, k.engine, engine.PayFunding{Vamm: v}); err != nil {
			k.logger.Warn("pay funding failed", zap.String("vamm", v), zap.Error(err))
			continue
		}
		settled++
		k.logger.Info("funding settled", zap.String("vamm", v), zap.Uint64("block_time", now))
	}
	return settled, nil
}
