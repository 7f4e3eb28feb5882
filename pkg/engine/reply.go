// 文件: pkg/engine/reply.go
// 第二阶段: 读取 vAMM 成交结果，更新仓位并划转资金
//
// vAMM 成交事件里 input 是请求的数量，output 是算出来的数量:
//   SwapInput:  input = 报价资产, output = 基础资产
//   SwapOutput: input = 基础资产, output = 报价资产

package engine

import (
	"fmt"

	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/metrics"
	"vperp.com/pkg/vamm"
)

// Reply 子消息回调入口
func (c *Contract) Reply(ctx chain.Context, r chain.Reply) (*chain.Response, error) {
	if r.ID == ReplyTransferFailure {
		ctx.Logger.Error("collateral transfer failed", zap.Error(r.Result.Err))
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, r.Result.Err)
	}

	t, err := begin(ctx)
	if err != nil {
		return nil, err
	}
	tmp, err := tmpSwapItem.MayLoad(ctx.Store)
	if err != nil {
		return nil, err
	}
	if tmp == nil {
		return nil, ErrNoTemporaryPosition
	}

	if r.ID == ReplyPayFunding {
		err = t.onPayFunding(tmp.Vamm, r.Result.Events)
	} else {
		var input, output fixed.Uint
		if input, err = swapAttribute(r.Result.Events, tmp.Vamm, "input"); err != nil {
			return nil, err
		}
		if output, err = swapAttribute(r.Result.Events, tmp.Vamm, "output"); err != nil {
			return nil, err
		}
		switch r.ID {
		case ReplyIncrease:
			err = t.onIncrease(tmp, input, output)
		case ReplyDecrease:
			err = t.onDecrease(tmp, input, output)
		case ReplyReverse:
			err = t.onReverse(tmp, output)
		case ReplyClose:
			err = t.onClose(tmp, output)
		case ReplyPartialClose:
			err = t.onPartialClose(tmp, input, output)
		case ReplyLiquidate:
			err = t.onLiquidate(tmp, output)
		case ReplyPartialLiquidate:
			err = t.onPartialLiquidate(tmp, input, output)
		default:
			err = fmt.Errorf("%w: %d", ErrUnknownReply, r.ID)
		}
	}
	if err != nil {
		return nil, err
	}
	return t.commit()
}

func swapAttribute(events []chain.Event, vammAddr, key string) (fixed.Uint, error) {
	v, ok := chain.FindAttribute(events, vammAddr, key)
	if !ok {
		return fixed.Zero(), fmt.Errorf("%w: %s", ErrMissingAttribute, key)
	}
	return fixed.ParseUint(v)
}

// finish 清理中间态并退回没用完的预付资金
func (t *txn) finish() error {
	if err := tmpSwapItem.Remove(t.ctx.Store); err != nil {
		return err
	}
	return t.refundSentFunds()
}

func (t *txn) touch(p *Position, latest fixed.Integer) {
	p.LastUpdatedPremiumFraction = latest
	p.BlockHeight = t.ctx.Env.Block.Height
	p.BlockTime = t.ctx.Env.Block.Time
}

// addOpenInterest 全局和单个 vAMM 的未平仓名义价值
func (t *txn) addOpenInterest(vm *VammMap, amount fixed.Uint) error {
	var err error
	if t.st.OpenInterestNotional, err = t.st.OpenInterestNotional.Add(amount); err != nil {
		return err
	}
	vm.OpenInterestNotional, err = vm.OpenInterestNotional.Add(amount)
	return err
}

func (t *txn) subOpenInterest(vm *VammMap, amount fixed.Uint) {
	t.st.OpenInterestNotional = t.st.OpenInterestNotional.SaturatingSub(amount)
	vm.OpenInterestNotional = vm.OpenInterestNotional.SaturatingSub(amount)
}

func (t *txn) positionEvent(action string, p Position) {
	metrics.PositionActions.WithLabelValues(p.Vamm, action).Inc()
	t.res.AddAttributes(
		"action", action,
		"vamm", p.Vamm,
		"trader", p.Trader,
		"size", p.Size.String(),
		"margin", p.Margin.String(),
		"notional", p.Notional.String(),
	)
}

// =============================================================================
// INCREASE
// =============================================================================

func (t *txn) onIncrease(tmp *TmpSwap, input, output fixed.Uint) error {
	d := t.d()
	pos, _, err := loadPosition(t.ctx.Store, tmp.Vamm, tmp.Trader)
	if err != nil {
		return err
	}
	vm, err := loadVammMap(t.ctx.Store, tmp.Vamm)
	if err != nil {
		return err
	}
	latest := vm.LatestPremiumFraction()

	rm, err := calcRemainMargin(pos, fixed.NewInteger(tmp.QuoteAssetAmount), latest, d)
	if err != nil {
		return err
	}
	if !rm.BadDebt.IsZero() {
		return ErrCannotIncreasePositionBadDebt
	}
	if tmp.Side == Buy {
		pos.Size, err = pos.Size.AddUint(output)
	} else {
		pos.Size, err = pos.Size.SubUint(output)
	}
	if err != nil {
		return err
	}
	pos.Margin = rm.Remaining
	if pos.Notional, err = pos.Notional.Add(input); err != nil {
		return err
	}
	pos.Direction = tmp.Side.Direction()
	applyTpSl(&pos.TakeProfit, tmp.TakeProfit)
	applyTpSl(&pos.StopLoss, tmp.StopLoss)
	t.touch(&pos, latest)

	if err := t.addOpenInterest(&vm, input); err != nil {
		return err
	}
	if err := t.checkCaps(tmp, vm, pos); err != nil {
		return err
	}
	if err := saveVammMap(t.ctx.Store, tmp.Vamm, vm); err != nil {
		return err
	}

	ratio, err := marginRatio(t.ctx, d, pos, latest, SpotPrice)
	if err != nil {
		return err
	}
	if ratio.Lt(fixed.NewInteger(t.cfg.InitialMarginRatio)) {
		return fmt.Errorf("%w: margin ratio %s", ErrUnderCollateralized, ratio)
	}
	if err := savePosition(t.ctx.Store, d, pos); err != nil {
		return err
	}

	if err := t.settleMarginToVault(tmp.Trader, tmp.MarginToVault); err != nil {
		return err
	}
	if err := t.payFees(tmp); err != nil {
		return err
	}
	if err := t.finish(); err != nil {
		return err
	}
	t.positionEvent("increase_position", pos)
	t.res.AddAttributes("exchanged_quote", input.String(), "exchanged_size", output.String(),
		"funding_payment", rm.FundingPayment.String())
	return nil
}

// checkCaps 白名单地址不受持仓上限和未平仓上限约束
func (t *txn) checkCaps(tmp *TmpSwap, vm VammMap, pos Position) error {
	vcfg, err := chain.Query[vamm.Config](t.ctx.Querier, tmp.Vamm, vamm.ConfigQuery{})
	if err != nil {
		return err
	}
	if vcfg.OpenInterestNotionalCap.IsZero() && vcfg.BaseAssetHoldingCap.IsZero() {
		return nil
	}
	listed, err := isWhitelisted(t.ctx.Store, tmp.Trader)
	if err != nil || listed {
		return err
	}
	if limit := vcfg.OpenInterestNotionalCap; !limit.IsZero() && vm.OpenInterestNotional.Gt(limit) {
		return fmt.Errorf("%w: %s > %s", ErrOpenInterestCapExceeded, vm.OpenInterestNotional, limit)
	}
	if limit := vcfg.BaseAssetHoldingCap; !limit.IsZero() && pos.Size.Abs().Gt(limit) {
		return fmt.Errorf("%w: %s > %s", ErrBaseAssetHoldingCapExceeded, pos.Size.Abs(), limit)
	}
	return nil
}

// =============================================================================
// DECREASE / 部分平仓
// =============================================================================

// reduced 按比例平掉一部分仓位后的结果
type reduced struct {
	pos      Position
	realized fixed.Integer
	rm       remainMargin
	closed   fixed.Uint // 减少的开仓名义价值
}

// reduce 平掉 base 数量的仓位，成交额为 quote
//
// realized = unrealized · base / |size|
// 剩余开仓价值 多头 = 现价价值 - quote - 剩余未实现盈亏，空头 = 剩余未实现盈亏 + 现价价值 - quote
func (t *txn) reduce(tmp *TmpSwap, pos Position, latest fixed.Integer, base, quote fixed.Uint) (reduced, error) {
	d := t.d()
	size := pos.Size.Abs()
	if base.Gt(size) {
		return reduced{}, fmt.Errorf("%w: %s > %s", ErrInvalidDecrease, base, size)
	}
	realized, err := tmp.UnrealizedPnl.MulDiv(fixed.NewInteger(base), fixed.NewInteger(size))
	if err != nil {
		return reduced{}, err
	}
	rm, err := calcRemainMargin(pos, realized, latest, d)
	if err != nil {
		return reduced{}, err
	}
	remainPnl, err := tmp.UnrealizedPnl.Sub(realized)
	if err != nil {
		return reduced{}, err
	}

	var remainNotional fixed.Integer
	if pos.IsLong() {
		if remainNotional, err = fixed.NewInteger(tmp.PositionNotional).SubUint(quote); err == nil {
			remainNotional, err = remainNotional.Sub(remainPnl)
		}
		if err == nil {
			pos.Size, err = pos.Size.SubUint(base)
		}
	} else {
		if remainNotional, err = remainPnl.AddUint(tmp.PositionNotional); err == nil {
			remainNotional, err = remainNotional.SubUint(quote)
		}
		if err == nil {
			pos.Size, err = pos.Size.AddUint(base)
		}
	}
	if err != nil {
		return reduced{}, err
	}
	newNotional := fixed.Zero()
	if remainNotional.IsPositive() {
		newNotional = remainNotional.Abs()
	}

	out := reduced{realized: realized, rm: rm, closed: pos.Notional.SaturatingSub(newNotional)}
	pos.Margin = rm.Remaining
	pos.Notional = newNotional
	t.touch(&pos, latest)
	out.pos = pos
	return out, nil
}

// requireSolvent 还有仓位就必须还有保证金
func (r reduced) requireSolvent() error {
	if !r.rm.BadDebt.IsZero() {
		return ErrCannotReducePositionBadDebt
	}
	if r.pos.Margin.IsZero() && !r.pos.Size.IsZero() {
		return fmt.Errorf("%w: remaining margin is zero", ErrCannotReducePositionBadDebt)
	}
	return nil
}

func (t *txn) onDecrease(tmp *TmpSwap, input, output fixed.Uint) error {
	pos, err := mustLoadPosition(t.ctx.Store, tmp.Vamm, tmp.Trader)
	if err != nil {
		return err
	}
	vm, err := loadVammMap(t.ctx.Store, tmp.Vamm)
	if err != nil {
		return err
	}
	r, err := t.reduce(tmp, pos, vm.LatestPremiumFraction(), output, input)
	if err != nil {
		return err
	}
	if err := r.requireSolvent(); err != nil {
		return err
	}
	t.subOpenInterest(&vm, r.closed)
	if err := saveVammMap(t.ctx.Store, tmp.Vamm, vm); err != nil {
		return err
	}
	if r.pos.Size.IsZero() {
		if err := t.withdraw(tmp.Trader, r.pos.Margin); err != nil {
			return err
		}
		r.pos.Margin = fixed.Zero()
	}
	if err := savePosition(t.ctx.Store, t.d(), r.pos); err != nil {
		return err
	}
	if err := t.payFees(tmp); err != nil {
		return err
	}
	if err := t.finish(); err != nil {
		return err
	}
	t.positionEvent("decrease_position", r.pos)
	t.res.AddAttributes("exchanged_quote", input.String(), "exchanged_size", output.String(),
		"pnl", r.realized.String(), "funding_payment", r.rm.FundingPayment.String())
	return nil
}

// onPartialClose 部分平仓的手续费从保证金里扣
func (t *txn) onPartialClose(tmp *TmpSwap, input, output fixed.Uint) error {
	pos, err := mustLoadPosition(t.ctx.Store, tmp.Vamm, tmp.Trader)
	if err != nil {
		return err
	}
	vm, err := loadVammMap(t.ctx.Store, tmp.Vamm)
	if err != nil {
		return err
	}
	r, err := t.reduce(tmp, pos, vm.LatestPremiumFraction(), input, output)
	if err != nil {
		return err
	}
	if !r.rm.BadDebt.IsZero() {
		return ErrCannotClosePositionBadDebt
	}
	fee, err := calcFee(t.ctx, tmp.Vamm, output)
	if err != nil {
		return err
	}
	if r.pos.Margin, err = t.chargeFees(r.pos.Margin, fee); err != nil {
		return err
	}
	t.subOpenInterest(&vm, r.closed)
	if err := saveVammMap(t.ctx.Store, tmp.Vamm, vm); err != nil {
		return err
	}
	if err := savePosition(t.ctx.Store, t.d(), r.pos); err != nil {
		return err
	}
	if err := t.finish(); err != nil {
		return err
	}
	t.positionEvent("partial_close_position", r.pos)
	t.res.AddAttributes("exchanged_quote", output.String(), "exchanged_size", input.String(),
		"pnl", r.realized.String(), "funding_payment", r.rm.FundingPayment.String())
	return nil
}

// chargeFees 从 budget 中扣手续费 (不够时按 budget 封顶)，返回剩余
func (t *txn) chargeFees(budget fixed.Uint, fee vamm.CalcFeeResponse) (fixed.Uint, error) {
	spread := fixed.Min(fee.SpreadFee, budget)
	budget, _ = budget.Sub(spread)
	toll := fixed.Min(fee.TollFee, budget)
	budget, _ = budget.Sub(toll)
	if !spread.IsZero() {
		if t.cfg.InsuranceFund == "" {
			return fixed.Zero(), ErrInsuranceNotSet
		}
		if err := t.withdraw(t.cfg.InsuranceFund, spread); err != nil {
			return fixed.Zero(), err
		}
	}
	if !toll.IsZero() {
		if t.cfg.FeePool == "" {
			return fixed.Zero(), ErrInvalidConfig
		}
		if err := t.withdraw(t.cfg.FeePool, toll); err != nil {
			return fixed.Zero(), err
		}
	}
	t.res.AddAttributes("spread_fee", spread.String(), "toll_fee", toll.String())
	return budget, nil
}

// =============================================================================
// REVERSE
// =============================================================================

// onReverse 旧仓位已经整个平掉，剩余名义价值 / 杠杆 > 0 时继续开反向仓位
func (t *txn) onReverse(tmp *TmpSwap, output fixed.Uint) error {
	d := t.d()
	pos, err := mustLoadPosition(t.ctx.Store, tmp.Vamm, tmp.Trader)
	if err != nil {
		return err
	}
	vm, err := loadVammMap(t.ctx.Store, tmp.Vamm)
	if err != nil {
		return err
	}
	realized, err := pnlAt(pos, output)
	if err != nil {
		return err
	}
	rm, err := calcRemainMargin(pos, realized, vm.LatestPremiumFraction(), d)
	if err != nil {
		return err
	}
	if !rm.BadDebt.IsZero() {
		return ErrCannotReducePositionBadDebt
	}
	t.subOpenInterest(&vm, pos.Notional)
	if err := saveVammMap(t.ctx.Store, tmp.Vamm, vm); err != nil {
		return err
	}
	if err := removePosition(t.ctx.Store, d, tmp.Vamm, tmp.Trader); err != nil {
		return err
	}
	if err := t.payFees(tmp); err != nil {
		return err
	}

	closed := pos
	closed.Size = fixed.Integer{}
	closed.Margin = fixed.Zero()
	t.positionEvent("reverse_position", closed)
	t.res.AddAttributes("exchanged_quote", output.String(), "exchanged_size", pos.Size.Abs().String(),
		"pnl", realized.String(), "funding_payment", rm.FundingPayment.String())

	remaining := tmp.OpenNotional.SaturatingSub(output)
	newMargin := fixed.Zero()
	if !remaining.IsZero() {
		if newMargin, err = fixed.DivDec(remaining, tmp.Leverage, d); err != nil {
			return err
		}
	}
	if newMargin.IsZero() {
		if err := t.withdraw(tmp.Trader, rm.Remaining); err != nil {
			return err
		}
		return t.finish()
	}

	// 旧仓位剩下的保证金直接抵扣新仓位需要的保证金
	mtv, err := fixed.NewInteger(newMargin).SubUint(rm.Remaining)
	if err != nil {
		return err
	}
	next := *tmp
	next.QuoteAssetAmount = newMargin
	next.OpenNotional = remaining
	next.MarginToVault = mtv
	next.PositionNotional = fixed.Zero()
	next.UnrealizedPnl = fixed.Integer{}
	next.BaseAssetLimit = tmp.BaseAssetLimit.SaturatingSub(pos.Size.Abs())
	if err := tmpSwapItem.Save(t.ctx.Store, next); err != nil {
		return err
	}
	t.res.AddSubMessage(swapInputMsg(ReplyIncrease, tmp.Vamm, tmp.Side.Direction(), remaining, next.BaseAssetLimit, false))
	return nil
}

// =============================================================================
// CLOSE
// =============================================================================

// onClose 手续费从平仓所得里扣，剩余付给交易者
func (t *txn) onClose(tmp *TmpSwap, output fixed.Uint) error {
	d := t.d()
	pos, err := mustLoadPosition(t.ctx.Store, tmp.Vamm, tmp.Trader)
	if err != nil {
		return err
	}
	vm, err := loadVammMap(t.ctx.Store, tmp.Vamm)
	if err != nil {
		return err
	}
	realized, err := pnlAt(pos, output)
	if err != nil {
		return err
	}
	rm, err := calcRemainMargin(pos, realized, vm.LatestPremiumFraction(), d)
	if err != nil {
		return err
	}
	if !rm.BadDebt.IsZero() {
		return ErrCannotClosePositionBadDebt
	}
	fee, err := calcFee(t.ctx, tmp.Vamm, output)
	if err != nil {
		return err
	}
	payout, err := t.chargeFees(rm.Remaining, fee)
	if err != nil {
		return err
	}
	t.subOpenInterest(&vm, pos.Notional)
	if err := saveVammMap(t.ctx.Store, tmp.Vamm, vm); err != nil {
		return err
	}
	if err := removePosition(t.ctx.Store, d, tmp.Vamm, tmp.Trader); err != nil {
		return err
	}
	if err := t.withdraw(tmp.Trader, payout); err != nil {
		return err
	}
	if err := t.finish(); err != nil {
		return err
	}

	closed := pos
	closed.Size = fixed.Integer{}
	closed.Margin = fixed.Zero()
	t.positionEvent("close_position", closed)
	t.res.AddAttributes("exchanged_quote", output.String(), "exchanged_size", pos.Size.Abs().String(),
		"pnl", realized.String(), "funding_payment", rm.FundingPayment.String(), "withdraw_amount", payout.String())
	return nil
}

// =============================================================================
// 强平
// =============================================================================

// splitLiquidationFee 一半给强平人，剩下的给保险基金
func (t *txn) splitLiquidationFee(liquidator string, fee fixed.Uint) error {
	toLiquidator, err := fee.Div(fixed.NewUint(2))
	if err != nil {
		return err
	}
	toInsurance, _ := fee.Sub(toLiquidator)
	if err := t.withdraw(liquidator, toLiquidator); err != nil {
		return err
	}
	if !toInsurance.IsZero() {
		if t.cfg.InsuranceFund == "" {
			return ErrInsuranceNotSet
		}
		if err := t.withdraw(t.cfg.InsuranceFund, toInsurance); err != nil {
			return err
		}
	}
	t.res.AddAttributes("fee_to_liquidator", toLiquidator.String(), "fee_to_insurance_fund", toInsurance.String())
	return nil
}

func (t *txn) finishLiquidation() error {
	if err := tmpLiquidator.Remove(t.ctx.Store); err != nil {
		return err
	}
	return t.finish()
}

// onLiquidate 全部强平: 手续费 = output · LF，保证金不够付的部分和亏穿部分一起作为坏账
func (t *txn) onLiquidate(tmp *TmpSwap, output fixed.Uint) error {
	d := t.d()
	liquidator, err := tmpLiquidator.Load(t.ctx.Store)
	if err != nil {
		return err
	}
	pos, err := mustLoadPosition(t.ctx.Store, tmp.Vamm, tmp.Trader)
	if err != nil {
		return err
	}
	vm, err := loadVammMap(t.ctx.Store, tmp.Vamm)
	if err != nil {
		return err
	}
	realized, err := pnlAt(pos, output)
	if err != nil {
		return err
	}
	rm, err := calcRemainMargin(pos, realized, vm.LatestPremiumFraction(), d)
	if err != nil {
		return err
	}
	fee, err := fixed.MulDec(output, t.cfg.LiquidationFee, d)
	if err != nil {
		return err
	}
	remain, badDebt := rm.Remaining, rm.BadDebt
	if fee.Gt(remain) {
		extra, _ := fee.Sub(remain)
		if badDebt, err = badDebt.Add(extra); err != nil {
			return err
		}
		remain = fixed.Zero()
	} else {
		remain, _ = remain.Sub(fee)
	}

	if err := t.realizeBadDebt(badDebt); err != nil {
		return err
	}
	t.subOpenInterest(&vm, pos.Notional)
	if err := saveVammMap(t.ctx.Store, tmp.Vamm, vm); err != nil {
		return err
	}
	if err := removePosition(t.ctx.Store, d, tmp.Vamm, tmp.Trader); err != nil {
		return err
	}
	if err := t.splitLiquidationFee(liquidator, fee); err != nil {
		return err
	}
	if err := t.withdraw(tmp.Trader, remain); err != nil {
		return err
	}
	if err := t.finishLiquidation(); err != nil {
		return err
	}

	metrics.LiquidationsTotal.WithLabelValues(tmp.Vamm, "full").Inc()
	if !badDebt.IsZero() {
		t.ctx.Logger.Warn("liquidation left bad debt",
			zap.String("vamm", tmp.Vamm),
			zap.String("trader", tmp.Trader),
			zap.String("bad_debt", badDebt.String()))
	}
	closed := pos
	closed.Size = fixed.Integer{}
	closed.Margin = fixed.Zero()
	t.positionEvent("liquidate_position", closed)
	t.res.AddAttributes(
		"liquidator", liquidator,
		"exchanged_quote", output.String(),
		"exchanged_size", pos.Size.Abs().String(),
		"pnl", realized.String(),
		"funding_payment", rm.FundingPayment.String(),
		"liquidation_fee", fee.String(),
		"bad_debt", badDebt.String(),
		"withdraw_amount", remain.String(),
	)
	return nil
}

// onPartialLiquidate 平掉 |size|·PLR，手续费从剩余保证金里扣
func (t *txn) onPartialLiquidate(tmp *TmpSwap, input, output fixed.Uint) error {
	d := t.d()
	liquidator, err := tmpLiquidator.Load(t.ctx.Store)
	if err != nil {
		return err
	}
	pos, err := mustLoadPosition(t.ctx.Store, tmp.Vamm, tmp.Trader)
	if err != nil {
		return err
	}
	vm, err := loadVammMap(t.ctx.Store, tmp.Vamm)
	if err != nil {
		return err
	}
	r, err := t.reduce(tmp, pos, vm.LatestPremiumFraction(), input, output)
	if err != nil {
		return err
	}
	if !r.rm.BadDebt.IsZero() {
		return ErrCannotReducePositionBadDebt
	}
	fee, err := fixed.MulDec(output, t.cfg.LiquidationFee, d)
	if err != nil {
		return err
	}
	if r.pos.Margin, err = r.pos.Margin.Sub(fee); err != nil {
		return fmt.Errorf("%w: liquidation fee %s", ErrInsufficientMargin, fee)
	}
	t.subOpenInterest(&vm, r.closed)
	if err := saveVammMap(t.ctx.Store, tmp.Vamm, vm); err != nil {
		return err
	}
	if err := savePosition(t.ctx.Store, d, r.pos); err != nil {
		return err
	}
	if err := t.splitLiquidationFee(liquidator, fee); err != nil {
		return err
	}
	if err := t.finishLiquidation(); err != nil {
		return err
	}

	metrics.LiquidationsTotal.WithLabelValues(tmp.Vamm, "partial").Inc()
	t.positionEvent("partial_liquidate_position", r.pos)
	t.res.AddAttributes(
		"liquidator", liquidator,
		"exchanged_quote", output.String(),
		"exchanged_size", input.String(),
		"pnl", r.realized.String(),
		"funding_payment", r.rm.FundingPayment.String(),
		"liquidation_fee", fee.String(),
	)
	return nil
}

// =============================================================================
// 资金费
// =============================================================================

// onPayFunding 把本期 premium_fraction 累加到 vAMM 的累计资金费序列
func (t *txn) onPayFunding(vammAddr string, events []chain.Event) error {
	raw, ok := chain.FindAttribute(events, vammAddr, "premium_fraction")
	if !ok {
		return fmt.Errorf("%w: premium_fraction", ErrMissingAttribute)
	}
	pf, err := fixed.ParseInteger(raw)
	if err != nil {
		return err
	}
	vm, err := loadVammMap(t.ctx.Store, vammAddr)
	if err != nil {
		return err
	}
	cum, err := vm.LatestPremiumFraction().Add(pf)
	if err != nil {
		return err
	}
	vm.CumulativePremiumFractions = append(vm.CumulativePremiumFractions, cum)
	if err := saveVammMap(t.ctx.Store, vammAddr, vm); err != nil {
		return err
	}
	if err := tmpSwapItem.Remove(t.ctx.Store); err != nil {
		return err
	}
	metrics.FundingSettlements.WithLabelValues(vammAddr).Inc()
	t.ctx.Logger.Info("funding settled",
		zap.String("vamm", vammAddr),
		zap.String("premium_fraction", pf.String()),
		zap.String("cumulative", cum.String()))
	t.res.AddAttributes("action", "pay_funding_reply", "vamm", vammAddr,
		"premium_fraction", pf.String(), "cumulative_premium_fraction", cum.String())
	return nil
}
