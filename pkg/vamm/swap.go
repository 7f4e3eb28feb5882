// 文件: pkg/vamm/swap.go
// 成交: SwapInput / SwapOutput + 波动限制

package vamm

import (
	"fmt"

	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/metrics"
)

func loadOpenState(ctx chain.Context) (State, error) {
	st, err := stateItem.Load(ctx.Store)
	if err != nil {
		return State{}, err
	}
	if !st.Open {
		return State{}, ErrAmmClosed
	}
	return st, nil
}

// swapInput 按报价资产数量成交
//
// Direction=AddToAmm: 做多，报价资产进池，拿走基础资产
// Direction=RemoveFromAmm: 做空，报价资产出池，基础资产进池
func (c *Contract) swapInput(ctx chain.Context, cfg Config, m SwapInput) (*chain.Response, error) {
	st, err := loadOpenState(ctx)
	if err != nil {
		return nil, err
	}
	if m.QuoteAssetAmount.IsZero() {
		return nil, ErrZeroAmount
	}

	base, err := InputPrice(m.Direction, m.QuoteAssetAmount, st.QuoteAssetReserve, st.BaseAssetReserve)
	if err != nil {
		return nil, err
	}
	if !m.BaseAssetLimit.IsZero() {
		// 做多: 至少拿到 limit；做空: 最多卖出 limit
		if m.Direction == AddToAmm && base.Lt(m.BaseAssetLimit) {
			return nil, fmt.Errorf("%w: base %s < limit %s", ErrSlippageLimit, base, m.BaseAssetLimit)
		}
		if m.Direction == RemoveFromAmm && base.Gt(m.BaseAssetLimit) {
			return nil, fmt.Errorf("%w: base %s > limit %s", ErrSlippageLimit, base, m.BaseAssetLimit)
		}
	}

	after, err := applySwap(st, m.Direction, m.QuoteAssetAmount, base)
	if err != nil {
		return nil, err
	}
	if err := checkFluctuation(ctx, cfg, st, after, m.CanGoOverFluctuation); err != nil {
		return nil, err
	}
	if err := commitSwap(ctx, cfg, after, "input"); err != nil {
		return nil, err
	}

	return chain.NewResponse().AddAttributes(
		"action", "swap_input",
		"direction", m.Direction.String(),
		"input", m.QuoteAssetAmount.String(),
		"output", base.String(),
		"quote_asset_reserve", after.QuoteAssetReserve.String(),
		"base_asset_reserve", after.BaseAssetReserve.String(),
	), nil
}

// swapOutput 按基础资产数量成交，Direction 是基础资产的方向
//
// Direction=AddToAmm: 基础资产进池 (平多 / 开空)，拿走报价资产
// Direction=RemoveFromAmm: 基础资产出池 (平空 / 开多)，付出报价资产
func (c *Contract) swapOutput(ctx chain.Context, cfg Config, m SwapOutput) (*chain.Response, error) {
	st, err := loadOpenState(ctx)
	if err != nil {
		return nil, err
	}
	if m.BaseAssetAmount.IsZero() {
		return nil, ErrZeroAmount
	}

	quote, err := OutputPrice(m.Direction, m.BaseAssetAmount, st.QuoteAssetReserve, st.BaseAssetReserve)
	if err != nil {
		return nil, err
	}
	if !m.QuoteAssetLimit.IsZero() {
		// 卖出基础资产: 至少拿到 limit；买入基础资产: 最多付 limit
		if m.Direction == AddToAmm && quote.Lt(m.QuoteAssetLimit) {
			return nil, fmt.Errorf("%w: quote %s < limit %s", ErrSlippageLimit, quote, m.QuoteAssetLimit)
		}
		if m.Direction == RemoveFromAmm && quote.Gt(m.QuoteAssetLimit) {
			return nil, fmt.Errorf("%w: quote %s > limit %s", ErrSlippageLimit, quote, m.QuoteAssetLimit)
		}
	}

	after, err := applySwap(st, m.Direction.Opposite(), quote, m.BaseAssetAmount)
	if err != nil {
		return nil, err
	}
	if err := checkFluctuation(ctx, cfg, st, after, m.CanGoOverFluctuation); err != nil {
		return nil, err
	}
	if err := commitSwap(ctx, cfg, after, "output"); err != nil {
		return nil, err
	}

	return chain.NewResponse().AddAttributes(
		"action", "swap_output",
		"direction", m.Direction.String(),
		"input", m.BaseAssetAmount.String(),
		"output", quote.String(),
		"quote_asset_reserve", after.QuoteAssetReserve.String(),
		"base_asset_reserve", after.BaseAssetReserve.String(),
	), nil
}

// applySwap 按报价资产方向更新储备和净持仓
//
// quoteDir=AddToAmm: Q+quote, B-base, 净持仓 +base
// quoteDir=RemoveFromAmm: Q-quote, B+base, 净持仓 -base
func applySwap(st State, quoteDir Direction, quote, base fixed.Uint) (State, error) {
	var err error
	out := st
	switch quoteDir {
	case AddToAmm:
		if out.QuoteAssetReserve, err = st.QuoteAssetReserve.Add(quote); err != nil {
			return State{}, err
		}
		if base.Gte(st.BaseAssetReserve) {
			return State{}, ErrInsufficientReserve
		}
		out.BaseAssetReserve, _ = st.BaseAssetReserve.Sub(base)
		out.TotalPositionSize, err = st.TotalPositionSize.AddUint(base)
	case RemoveFromAmm:
		if quote.Gte(st.QuoteAssetReserve) {
			return State{}, ErrInsufficientReserve
		}
		out.QuoteAssetReserve, _ = st.QuoteAssetReserve.Sub(quote)
		if out.BaseAssetReserve, err = st.BaseAssetReserve.Add(base); err != nil {
			return State{}, err
		}
		out.TotalPositionSize, err = st.TotalPositionSize.SubUint(base)
	default:
		return State{}, ErrInvalidDirection
	}
	return out, err
}

func commitSwap(ctx chain.Context, cfg Config, after State, kind string) error {
	if err := stateItem.Save(ctx.Store, after); err != nil {
		return err
	}
	if err := saveSnapshot(ctx, after); err != nil {
		return err
	}

	metrics.SwapsTotal.WithLabelValues(ctx.Env.Contract, kind).Inc()
	if spot, err := spotPrice(cfg, after); err == nil {
		metrics.SpotPrice.WithLabelValues(ctx.Env.Contract).Set(spot.Float64() / cfg.Decimals.Float64())
	}
	ctx.Logger.Debug("reserves updated",
		zap.String("kind", kind),
		zap.String("quote_asset_reserve", after.QuoteAssetReserve.String()),
		zap.String("base_asset_reserve", after.BaseAssetReserve.String()),
		zap.String("total_position_size", after.TotalPositionSize.String()))
	return nil
}

// =============================================================================
// 波动限制
// =============================================================================

// fluctuationBounds 以上一个区块的最后价格为中心的 [lower, upper]
func fluctuationBounds(ctx chain.Context, cfg Config) (lower, upper fixed.Uint, err error) {
	snap, err := priorBlockSnapshot(ctx)
	if err != nil {
		return
	}
	last, err := snap.Price(cfg.Decimals)
	if err != nil {
		return
	}
	hi, err := cfg.Decimals.Add(cfg.FluctuationLimitRatio)
	if err != nil {
		return
	}
	lo, err := cfg.Decimals.Sub(cfg.FluctuationLimitRatio)
	if err != nil {
		return
	}
	if upper, err = fixed.MulDec(last, hi, cfg.Decimals); err != nil {
		return
	}
	lower, err = fixed.MulDec(last, lo, cfg.Decimals)
	return
}

func within(p, lower, upper fixed.Uint) bool {
	return p.Gte(lower) && p.Lte(upper)
}

// checkFluctuation 比例为 0 时不检查
//
// 当前价格已经越界时，本区块内任何成交都被拒绝；
// 否则除非允许越界 (强平)，成交后的价格也必须在区间内
func checkFluctuation(ctx chain.Context, cfg Config, before, after State, canGoOver bool) error {
	if cfg.FluctuationLimitRatio.IsZero() {
		return nil
	}
	lower, upper, err := fluctuationBounds(ctx, cfg)
	if err != nil {
		return err
	}
	cur, err := spotPrice(cfg, before)
	if err != nil {
		return err
	}
	if !within(cur, lower, upper) {
		return ErrPriceAlreadyOverFluctuationLimit
	}
	if canGoOver {
		return nil
	}
	next, err := spotPrice(cfg, after)
	if err != nil {
		return err
	}
	if !within(next, lower, upper) {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrPriceOverFluctuationLimit, next, lower, upper)
	}
	return nil
}

// isOverFluctuationLimit 以 base 方向成交 amount 是否会越过波动限制
func isOverFluctuationLimit(ctx chain.Context, cfg Config, st State, dir Direction, amount fixed.Uint) (bool, error) {
	if cfg.FluctuationLimitRatio.IsZero() {
		return false, nil
	}
	lower, upper, err := fluctuationBounds(ctx, cfg)
	if err != nil {
		return false, err
	}
	cur, err := spotPrice(cfg, st)
	if err != nil {
		return false, err
	}
	if !within(cur, lower, upper) {
		return true, nil
	}
	quote, err := OutputPrice(dir, amount, st.QuoteAssetReserve, st.BaseAssetReserve)
	if err != nil {
		return false, err
	}
	after, err := applySwap(st, dir.Opposite(), quote, amount)
	if err != nil {
		// 储备都不够了，当然越界
		return true, nil
	}
	next, err := spotPrice(cfg, after)
	if err != nil {
		return false, err
	}
	return !within(next, lower, upper), nil
}
