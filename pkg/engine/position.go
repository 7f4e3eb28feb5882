// 文件: pkg/engine/position.go
// 交易入口: 开仓 / 平仓 / 强平 / 资金费 / 追加与提取保证金
//
// 开平仓、强平和资金费只做校验和下单 (第一阶段)，仓位在 reply.go 里更新

package engine

import (
	"fmt"

	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/metrics"
	"vperp.com/pkg/storage"
	"vperp.com/pkg/vamm"
)

// beginTrade 交易类操作的公共前置检查
func beginTrade(ctx chain.Context) (*txn, error) {
	t, err := begin(ctx)
	if err != nil {
		return nil, err
	}
	if t.st.Pause {
		return nil, ErrEnginePaused
	}
	inflight, err := tmpSwapItem.Exists(ctx.Store)
	if err != nil {
		return nil, err
	}
	if inflight {
		return nil, ErrConcurrentSwap
	}
	return t, nil
}

// requireNotRestricted 强平过的 vAMM 在当前区块内，已经操作过的仓位不能再操作
func requireNotRestricted(ctx chain.Context, vm VammMap, p Position) error {
	h := ctx.Env.Block.Height
	if vm.LastRestrictionBlock == h && p.BlockHeight == h {
		return ErrOnlyOneAction
	}
	return nil
}

// =============================================================================
// 开仓
// =============================================================================

// openPosition 按现有仓位决定走 INCREASE / DECREASE / REVERSE
//
// 【面试】减仓还是反手?
// 比较本次名义价值和仓位的现价价值: 现价价值更大说明只是部分减仓，
// 否则先整个平掉再用剩余名义价值反向开仓。
func (c *Contract) openPosition(ctx chain.Context, info chain.MessageInfo, trader string, m OpenPosition, prepaid *fixed.Uint) (*chain.Response, error) {
	t, err := beginTrade(ctx)
	if err != nil {
		return nil, err
	}
	d := t.d()
	vcfg, err := requireVamm(ctx, t.cfg, m.Vamm)
	if err != nil {
		return nil, err
	}
	if m.QuoteAssetAmount.IsZero() {
		return nil, ErrZeroAmount
	}
	if m.Leverage.IsZero() {
		return nil, ErrInvalidLeverage
	}
	// L · IMR ≤ 1
	used, err := fixed.MulDec(m.Leverage, vcfg.InitialMarginRatio, d)
	if err != nil {
		return nil, err
	}
	if used.Gt(d) {
		return nil, fmt.Errorf("%w: leverage %s above max", ErrUnderCollateralized, m.Leverage)
	}
	openNotional, err := fixed.MulDec(m.QuoteAssetAmount, m.Leverage, d)
	if err != nil {
		return nil, err
	}
	if openNotional.IsZero() {
		return nil, ErrZeroNotional
	}

	pos, _, err := loadPosition(ctx.Store, m.Vamm, trader)
	if err != nil {
		return nil, err
	}
	vm, err := loadVammMap(ctx.Store, m.Vamm)
	if err != nil {
		return nil, err
	}
	if err := requireNotRestricted(ctx, vm, pos); err != nil {
		return nil, err
	}

	fee, err := calcFee(ctx, m.Vamm, openNotional)
	if err != nil {
		return nil, err
	}
	required, err := m.QuoteAssetAmount.Add(fee.SpreadFee)
	if err != nil {
		return nil, err
	}
	if required, err = required.Add(fee.TollFee); err != nil {
		return nil, err
	}
	funded, err := assertFunds(t.cfg, info, prepaid, required)
	if err != nil {
		return nil, err
	}
	if funded {
		if err := sentFundsItem.Save(ctx.Store, SentFunds{Trader: trader, Amount: required}); err != nil {
			return nil, err
		}
	}

	if m.TakeProfit != nil || m.StopLoss != nil {
		spot, err := spotPrice(ctx, m.Vamm)
		if err != nil {
			return nil, err
		}
		if err := validateTpSl(m.Side, spot, m.TakeProfit, m.StopLoss); err != nil {
			return nil, err
		}
	}

	tmp := TmpSwap{
		Vamm:             m.Vamm,
		Trader:           trader,
		Side:             m.Side,
		QuoteAssetAmount: m.QuoteAssetAmount,
		Leverage:         m.Leverage,
		OpenNotional:     openNotional,
		BaseAssetLimit:   m.BaseAssetLimit,
		SpreadFee:        fee.SpreadFee,
		TollFee:          fee.TollFee,
		TakeProfit:       m.TakeProfit,
		StopLoss:         m.StopLoss,
	}

	var (
		sub  chain.SubMsg
		kind string
	)
	if pos.Size.IsZero() || pos.Side() == m.Side {
		kind = "increase"
		tmp.MarginToVault = fixed.NewInteger(m.QuoteAssetAmount)
		sub = swapInputMsg(ReplyIncrease, m.Vamm, m.Side.Direction(), openNotional, m.BaseAssetLimit, false)
	} else {
		notional, pnl, err := positionNotionalAndPnl(ctx, d, pos, SpotPrice)
		if err != nil {
			return nil, err
		}
		tmp.PositionNotional = notional
		tmp.UnrealizedPnl = pnl
		if notional.Gt(openNotional) {
			// 减仓后剩下的仍是原方向，止盈止损只能用 UpdateTpSl 改
			if m.TakeProfit != nil || m.StopLoss != nil {
				return nil, fmt.Errorf("%w: reducing order cannot carry take profit or stop loss", ErrInvalidTpSl)
			}
			kind = "decrease"
			sub = swapInputMsg(ReplyDecrease, m.Vamm, m.Side.Direction(), openNotional, m.BaseAssetLimit, false)
		} else {
			kind = "reverse"
			sub = swapOutputMsg(ReplyReverse, m.Vamm, pos.CloseDirection(), pos.Size.Abs(), fixed.Zero(), false)
		}
	}
	if err := tmpSwapItem.Save(ctx.Store, tmp); err != nil {
		return nil, err
	}

	ctx.Logger.Debug("open position planned",
		zap.String("vamm", m.Vamm),
		zap.String("trader", trader),
		zap.String("side", m.Side.String()),
		zap.String("kind", kind),
		zap.String("open_notional", openNotional.String()))
	t.res.AddAttributes(
		"action", "open_position",
		"vamm", m.Vamm,
		"trader", trader,
		"side", m.Side.String(),
		"quote_asset_amount", m.QuoteAssetAmount.String(),
		"leverage", m.Leverage.String(),
		"open_notional", openNotional.String(),
	).AddSubMessage(sub)
	return t.commit()
}

// =============================================================================
// 平仓
// =============================================================================

// closePosition 价格已经贴近波动限制时只平掉 PLR 比例，其余留给下一个区块
func (c *Contract) closePosition(ctx chain.Context, trader string, m ClosePosition) (*chain.Response, error) {
	t, err := beginTrade(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := requireVamm(ctx, t.cfg, m.Vamm); err != nil {
		return nil, err
	}
	pos, err := mustLoadPosition(ctx.Store, m.Vamm, trader)
	if err != nil {
		return nil, err
	}
	vm, err := loadVammMap(ctx.Store, m.Vamm)
	if err != nil {
		return nil, err
	}
	if err := requireNotRestricted(ctx, vm, pos); err != nil {
		return nil, err
	}

	size := pos.Size.Abs()
	tmp := TmpSwap{Vamm: m.Vamm, Trader: trader, Side: pos.Side().Opposite()}
	sub := swapOutputMsg(ReplyClose, m.Vamm, pos.CloseDirection(), size, m.QuoteAssetLimit, false)

	if !t.cfg.PartialLiquidationRatio.IsZero() {
		over, err := chain.Query[bool](ctx.Querier, m.Vamm, vamm.IsOverFluctuationLimit{Direction: pos.CloseDirection(), BaseAssetAmount: size})
		if err != nil {
			return nil, err
		}
		partial, err := fixed.MulDec(size, t.cfg.PartialLiquidationRatio, t.d())
		if err != nil {
			return nil, err
		}
		if over && !partial.IsZero() {
			if tmp.PositionNotional, tmp.UnrealizedPnl, err = positionNotionalAndPnl(ctx, t.d(), pos, SpotPrice); err != nil {
				return nil, err
			}
			sub = swapOutputMsg(ReplyPartialClose, m.Vamm, pos.CloseDirection(), partial, fixed.Zero(), true)
		}
	}
	if err := tmpSwapItem.Save(ctx.Store, tmp); err != nil {
		return nil, err
	}
	t.res.AddAttributes("action", "close_position", "vamm", m.Vamm, "trader", trader).AddSubMessage(sub)
	return t.commit()
}

// =============================================================================
// 强平
// =============================================================================

// liquidate 保证金率低于维持保证金率时任何人都可以发起
//
// 【部分强平】配置了 PLR 且保证金率仍高于强平手续费率时，只平掉 |size|·PLR，
// 前提是平完之后不会出现坏账，否则直接全部强平
func (c *Contract) liquidate(ctx chain.Context, liquidator string, m Liquidate) (*chain.Response, error) {
	t, err := beginTrade(ctx)
	if err != nil {
		return nil, err
	}
	d := t.d()
	if _, err := requireVamm(ctx, t.cfg, m.Vamm); err != nil {
		return nil, err
	}
	pos, err := mustLoadPosition(ctx.Store, m.Vamm, m.Trader)
	if err != nil {
		return nil, err
	}
	vm, err := loadVammMap(ctx.Store, m.Vamm)
	if err != nil {
		return nil, err
	}
	if err := requireNotRestricted(ctx, vm, pos); err != nil {
		return nil, err
	}
	latest := vm.LatestPremiumFraction()

	ratio, err := liquidationMarginRatio(ctx, d, pos, latest)
	if err != nil {
		return nil, err
	}
	if ratio.Gte(fixed.NewInteger(t.cfg.MaintenanceMarginRatio)) {
		return nil, fmt.Errorf("%w: margin ratio %s", ErrOvercollateralized, ratio)
	}

	notional, pnl, err := positionNotionalAndPnl(ctx, d, pos, SpotPrice)
	if err != nil {
		return nil, err
	}
	tmp := TmpSwap{
		Vamm:             m.Vamm,
		Trader:           m.Trader,
		Side:             pos.Side().Opposite(),
		PositionNotional: notional,
		UnrealizedPnl:    pnl,
	}

	size := pos.Size.Abs()
	sub := swapOutputMsg(ReplyLiquidate, m.Vamm, pos.CloseDirection(), size, m.QuoteAssetLimit, true)
	kind := "full"
	if !t.cfg.PartialLiquidationRatio.IsZero() && ratio.Gt(fixed.NewInteger(t.cfg.LiquidationFee)) {
		partial, ok, err := partialLiquidationSize(ctx, t.cfg, pos, pnl, latest)
		if err != nil {
			return nil, err
		}
		if ok {
			kind = "partial"
			sub = swapOutputMsg(ReplyPartialLiquidate, m.Vamm, pos.CloseDirection(), partial, fixed.Zero(), true)
		}
	}

	vm.LastRestrictionBlock = ctx.Env.Block.Height
	if err := saveVammMap(ctx.Store, m.Vamm, vm); err != nil {
		return nil, err
	}
	if err := tmpLiquidator.Save(ctx.Store, liquidator); err != nil {
		return nil, err
	}
	if err := tmpSwapItem.Save(ctx.Store, tmp); err != nil {
		return nil, err
	}
	ctx.Logger.Info("liquidation started",
		zap.String("vamm", m.Vamm),
		zap.String("trader", m.Trader),
		zap.String("liquidator", liquidator),
		zap.String("margin_ratio", ratio.String()),
		zap.String("kind", kind))
	t.res.AddAttributes("action", "liquidate", "vamm", m.Vamm, "trader", m.Trader, "liquidator", liquidator, "margin_ratio", ratio.String()).
		AddSubMessage(sub)
	return t.commit()
}

// partialLiquidationSize 预估部分强平: 平仓后的保证金必须够付强平手续费
func partialLiquidationSize(ctx chain.Context, cfg Config, pos Position, pnl, latest fixed.Integer) (fixed.Uint, bool, error) {
	d := cfg.Decimals
	size := pos.Size.Abs()
	partial, err := fixed.MulDec(size, cfg.PartialLiquidationRatio, d)
	if err != nil || partial.IsZero() {
		return fixed.Zero(), false, err
	}
	out, err := chain.Query[fixed.Uint](ctx.Querier, pos.Vamm, vamm.GetOutputAmount{Direction: pos.CloseDirection(), Amount: partial})
	if err != nil {
		return fixed.Zero(), false, err
	}
	realized, err := pnl.MulDiv(fixed.NewInteger(partial), fixed.NewInteger(size))
	if err != nil {
		return fixed.Zero(), false, err
	}
	rm, err := calcRemainMargin(pos, realized, latest, d)
	if err != nil {
		return fixed.Zero(), false, err
	}
	fee, err := fixed.MulDec(out, cfg.LiquidationFee, d)
	if err != nil {
		return fixed.Zero(), false, err
	}
	return partial, rm.BadDebt.IsZero() && rm.Remaining.Gt(fee), nil
}

// =============================================================================
// 资金费
// =============================================================================

func (c *Contract) payFunding(ctx chain.Context, sender string, m PayFunding) (*chain.Response, error) {
	t, err := begin(ctx)
	if err != nil {
		return nil, err
	}
	if sender != t.cfg.Owner && (t.cfg.Operator == "" || sender != t.cfg.Operator) {
		return nil, ErrUnauthorized
	}
	inflight, err := tmpSwapItem.Exists(ctx.Store)
	if err != nil {
		return nil, err
	}
	if inflight {
		return nil, ErrConcurrentSwap
	}
	if _, err := requireVamm(ctx, t.cfg, m.Vamm); err != nil {
		return nil, err
	}
	if err := tmpSwapItem.Save(ctx.Store, TmpSwap{Vamm: m.Vamm}); err != nil {
		return nil, err
	}
	t.res.AddAttributes("action", "pay_funding", "vamm", m.Vamm).AddSubMessage(chain.SubMsg{
		ID:      ReplyPayFunding,
		ReplyOn: chain.ReplySuccess,
		Msg:     chain.ExecuteMsg{Contract: m.Vamm, Msg: vamm.SettleFunding{}},
	})
	return t.commit()
}

// =============================================================================
// 保证金
// =============================================================================

func (c *Contract) depositMargin(ctx chain.Context, info chain.MessageInfo, trader string, m DepositMargin, prepaid *fixed.Uint) (*chain.Response, error) {
	t, err := begin(ctx)
	if err != nil {
		return nil, err
	}
	if t.st.Pause {
		return nil, ErrEnginePaused
	}
	if m.Amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if _, err := requireVamm(ctx, t.cfg, m.Vamm); err != nil {
		return nil, err
	}
	pos, err := mustLoadPosition(ctx.Store, m.Vamm, trader)
	if err != nil {
		return nil, err
	}
	vm, err := loadVammMap(ctx.Store, m.Vamm)
	if err != nil {
		return nil, err
	}
	if err := requireNotRestricted(ctx, vm, pos); err != nil {
		return nil, err
	}
	funded, err := assertFunds(t.cfg, info, prepaid, m.Amount)
	if err != nil {
		return nil, err
	}
	if !funded {
		if err := t.pull(trader, ctx.Env.Contract, m.Amount); err != nil {
			return nil, err
		}
	}
	if pos.Margin, err = pos.Margin.Add(m.Amount); err != nil {
		return nil, err
	}
	if err := savePosition(ctx.Store, t.d(), pos); err != nil {
		return nil, err
	}
	metrics.PositionActions.WithLabelValues(m.Vamm, "deposit_margin").Inc()
	t.res.AddAttributes("action", "deposit_margin", "vamm", m.Vamm, "trader", trader,
		"amount", m.Amount.String(), "margin", pos.Margin.String())
	return t.commit()
}

// withdrawMargin 先结算资金费，提取后保证金率仍需不低于 IMR
func (c *Contract) withdrawMargin(ctx chain.Context, trader string, m WithdrawMargin) (*chain.Response, error) {
	t, err := begin(ctx)
	if err != nil {
		return nil, err
	}
	if t.st.Pause {
		return nil, ErrEnginePaused
	}
	if m.Amount.IsZero() {
		return nil, ErrZeroAmount
	}
	d := t.d()
	if _, err := requireVamm(ctx, t.cfg, m.Vamm); err != nil {
		return nil, err
	}
	pos, err := mustLoadPosition(ctx.Store, m.Vamm, trader)
	if err != nil {
		return nil, err
	}
	vm, err := loadVammMap(ctx.Store, m.Vamm)
	if err != nil {
		return nil, err
	}
	if err := requireNotRestricted(ctx, vm, pos); err != nil {
		return nil, err
	}
	latest := vm.LatestPremiumFraction()

	rm, err := calcRemainMargin(pos, fixed.NewNegative(m.Amount), latest, d)
	if err != nil {
		return nil, err
	}
	if !rm.BadDebt.IsZero() {
		return nil, fmt.Errorf("%w: withdraw %s", ErrInsufficientMargin, m.Amount)
	}
	pos.Margin = rm.Remaining
	pos.LastUpdatedPremiumFraction = latest

	ratio, err := marginRatio(ctx, d, pos, latest, SpotPrice)
	if err != nil {
		return nil, err
	}
	if ratio.Lt(fixed.NewInteger(t.cfg.InitialMarginRatio)) {
		return nil, fmt.Errorf("%w: margin ratio %s after withdraw", ErrUnderCollateralized, ratio)
	}
	if err := savePosition(ctx.Store, d, pos); err != nil {
		return nil, err
	}
	if err := t.withdraw(trader, m.Amount); err != nil {
		return nil, err
	}
	metrics.PositionActions.WithLabelValues(m.Vamm, "withdraw_margin").Inc()
	t.res.AddAttributes("action", "withdraw_margin", "vamm", m.Vamm, "trader", trader,
		"amount", m.Amount.String(), "margin", pos.Margin.String(),
		"funding_payment", rm.FundingPayment.String())
	return t.commit()
}

// mustLoadPosition 仓位不存在或为空时返回 ErrNoPosition
func mustLoadPosition(s storage.KVStore, vammAddr, trader string) (Position, error) {
	pos, found, err := loadPosition(s, vammAddr, trader)
	if err != nil {
		return Position{}, err
	}
	if !found || pos.Size.IsZero() {
		return Position{}, fmt.Errorf("%w: %s on %s", ErrNoPosition, trader, vammAddr)
	}
	return pos, nil
}
