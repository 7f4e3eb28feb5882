// 文件: cmd/simulation/sim.go
// 随机行情模拟器
//
// 每一步:
//  1. 出一个新块
//  2. 每个市场的预言机价格做一次随机游走，幅度不超过 oracle_drift
//  3. 随机挑一个交易者做一个动作: 开仓 (可能带止盈止损)、追加保证金或平仓
//
// 被合约拒绝的动作只计数，不中断模拟

package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/config"
	"vperp.com/pkg/devnet"
	"vperp.com/pkg/engine"
	"vperp.com/pkg/fixed"
)

var ErrNoTraders = errors.New("simulation needs at least one trader")

type simStats struct {
	Steps    int
	Opened   int
	Closed   int
	Deposits int
	Rejected int
}

type simulator struct {
	d         *devnet.Devnet
	cfg       config.SimConfig
	blockTime uint64
	rng       *rand.Rand
	logger    *zap.Logger
	stats     simStats
}

func newSimulator(d *devnet.Devnet, cfg config.SimConfig, blockTime time.Duration, logger *zap.Logger) (*simulator, error) {
	if len(d.Traders) == 0 {
		return nil, ErrNoTraders
	}
	secs := uint64(blockTime / time.Second)
	if secs == 0 {
		secs = 1
	}
	if cfg.MaxLeverage < 1 {
		cfg.MaxLeverage = 1
	}
	if cfg.MaxQuote.LessThan(decimal.NewFromInt(10)) {
		cfg.MaxQuote = decimal.NewFromInt(10)
	}
	return &simulator{
		d:         d,
		cfg:       cfg,
		blockTime: secs,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		logger:    logger.Named("sim"),
	}, nil
}

// Run 跑完 steps 步或 ctx 取消后返回
func (s *simulator) Run(ctx context.Context) error {
	for i := 0; i < s.cfg.Steps; i++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.step(); err != nil {
			return err
		}
		if s.cfg.StepInterval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.cfg.StepInterval):
			}
		}
	}
	return nil
}

func (s *simulator) step() error {
	s.d.App.NextBlock(s.blockTime)
	for _, m := range s.d.Markets {
		if err := s.walkOracle(m); err != nil {
			return fmt.Errorf("oracle %s: %w", m.OracleKey, err)
		}
	}

	trader := s.d.Traders[s.rng.Intn(len(s.d.Traders))]
	market := s.d.Markets[s.rng.Intn(len(s.d.Markets))].Address
	s.act(trader, market)

	s.stats.Steps++
	if s.stats.Steps%100 == 0 {
		s.logger.Info("[Sim] progress",
			zap.Int("step", s.stats.Steps),
			zap.Uint64("height", s.d.App.Block().Height),
			zap.Int("opened", s.stats.Opened),
			zap.Int("closed", s.stats.Closed),
			zap.Int("rejected", s.stats.Rejected))
	}
	return nil
}

// walkOracle p' = p·(1 + drift·u), u ∈ [-1, 1)
func (s *simulator) walkOracle(m devnet.Market) error {
	p, err := s.d.OraclePrice(m.OracleKey)
	if err != nil {
		return err
	}
	u := decimal.NewFromFloat(s.rng.Float64()*2 - 1)
	factor := decimal.NewFromInt(1).Add(s.cfg.OracleDrift.Mul(u))
	next, err := s.d.Units(p.Decimal(s.d.Decimals).Mul(factor))
	if err != nil {
		return err
	}
	if next.IsZero() {
		return nil
	}
	return s.d.SetOraclePrice(m.OracleKey, next)
}

func (s *simulator) act(trader, market string) {
	_, err := chain.QueryAs[engine.Position](s.d.App, s.d.Engine, engine.PositionQuery{Vamm: market, Trader: trader})
	hasPosition := err == nil

	r := s.rng.Float64()
	switch {
	case hasPosition && r < 0.25:
		s.exec(trader, "close", engine.ClosePosition{Vamm: market}, &s.stats.Closed)
	case hasPosition && r < 0.35:
		amount, err := s.d.Units(s.randomQuote().Div(decimal.NewFromInt(4)))
		if err != nil || amount.IsZero() {
			return
		}
		s.exec(trader, "deposit", engine.DepositMargin{Vamm: market, Amount: amount}, &s.stats.Deposits)
	default:
		msg, err := s.randomOpen(market, !hasPosition)
		if err != nil {
			s.logger.Debug("build open failed", zap.Error(err))
			return
		}
		s.exec(trader, "open", msg, &s.stats.Opened)
	}
}

func (s *simulator) exec(trader, action string, msg any, counter *int) {
	if _, err := s.d.App.Execute(trader, s.d.Engine, msg); err != nil {
		s.stats.Rejected++
		s.logger.Debug("[Sim] rejected", zap.String("trader", trader), zap.String("action", action), zap.Error(err))
		return
	}
	*counter++
}

func (s *simulator) randomQuote() decimal.Decimal {
	lo := decimal.NewFromInt(10)
	span := s.cfg.MaxQuote.Sub(lo)
	return lo.Add(span.Mul(decimal.NewFromFloat(s.rng.Float64()))).Round(2)
}

// randomOpen 新开仓时三成带止盈止损，触发价离现价 3%~8%。已有仓位时可能是减仓，不带
func (s *simulator) randomOpen(market string, fresh bool) (engine.OpenPosition, error) {
	side := engine.Buy
	if s.rng.Intn(2) == 1 {
		side = engine.Sell
	}
	quote, err := s.d.Units(s.randomQuote())
	if err != nil {
		return engine.OpenPosition{}, err
	}
	leverage, err := s.d.Units(decimal.NewFromInt(1 + s.rng.Int63n(s.cfg.MaxLeverage)))
	if err != nil {
		return engine.OpenPosition{}, err
	}
	msg := engine.OpenPosition{Vamm: market, Side: side, QuoteAssetAmount: quote, Leverage: leverage}

	if fresh && s.rng.Float64() < 0.3 {
		spot, err := s.d.SpotPrice(market)
		if err != nil {
			return engine.OpenPosition{}, err
		}
		p := spot.Decimal(s.d.Decimals)
		off := decimal.NewFromFloat(0.03 + 0.05*s.rng.Float64())
		up := decimal.NewFromInt(1).Add(off)
		down := decimal.NewFromInt(1).Sub(off)
		if side == engine.Sell {
			up, down = down, up
		}
		tp, err := fixed.FromDecimal(p.Mul(up), s.d.Decimals)
		if err != nil {
			return engine.OpenPosition{}, err
		}
		sl, err := fixed.FromDecimal(p.Mul(down), s.d.Decimals)
		if err != nil {
			return engine.OpenPosition{}, err
		}
		msg.TakeProfit, msg.StopLoss = &tp, &sl
	}
	return msg, nil
}
