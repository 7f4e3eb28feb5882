// 文件: pkg/engine/tpsl.go
// 止盈止损
//
// 多头: 现价 >= 止盈价 或 现价 <= 止损价 时触发
// 空头: 现价 <= 止盈价 或 现价 >= 止损价 时触发
// 触发后整个仓位按现价平掉，滑点保护为 触发价值 · (1 ∓ TpSlSpread)

package engine

import (
	"fmt"

	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/vamm"
)

// validateTpSl 止盈价必须在现价有利一侧，止损价在不利一侧
func validateTpSl(side Side, spot fixed.Uint, tp, sl *fixed.Uint) error {
	if tp != nil && !tp.IsZero() {
		if side == Buy && tp.Lte(spot) || side == Sell && tp.Gte(spot) {
			return fmt.Errorf("%w: take profit %s vs spot %s", ErrInvalidTpSl, tp, spot)
		}
	}
	if sl != nil && !sl.IsZero() {
		if side == Buy && sl.Gte(spot) || side == Sell && sl.Lte(spot) {
			return fmt.Errorf("%w: stop loss %s vs spot %s", ErrInvalidTpSl, sl, spot)
		}
	}
	return nil
}

// applyTpSl nil 保持不变，0 清除
func applyTpSl(dst **fixed.Uint, v *fixed.Uint) {
	if v == nil {
		return
	}
	if v.IsZero() {
		*dst = nil
		return
	}
	val := *v
	*dst = &val
}

func (c *Contract) updateTpSl(ctx chain.Context, trader string, m UpdateTpSl) (*chain.Response, error) {
	t, err := begin(ctx)
	if err != nil {
		return nil, err
	}
	if t.st.Pause {
		return nil, ErrEnginePaused
	}
	pos, err := mustLoadPosition(ctx.Store, m.Vamm, trader)
	if err != nil {
		return nil, err
	}
	spot, err := spotPrice(ctx, m.Vamm)
	if err != nil {
		return nil, err
	}
	if err := validateTpSl(pos.Side(), spot, m.TakeProfit, m.StopLoss); err != nil {
		return nil, err
	}
	applyTpSl(&pos.TakeProfit, m.TakeProfit)
	applyTpSl(&pos.StopLoss, m.StopLoss)
	if err := savePosition(ctx.Store, t.d(), pos); err != nil {
		return nil, err
	}
	t.res.AddAttributes("action", "update_tp_sl", "vamm", m.Vamm, "trader", trader,
		"take_profit", optString(pos.TakeProfit), "stop_loss", optString(pos.StopLoss))
	return t.commit()
}

// tpSlTriggered 返回触发的价格和类型
func tpSlTriggered(p Position, spot fixed.Uint) (fixed.Uint, string, bool) {
	long := p.IsLong()
	if tp := p.TakeProfit; tp != nil {
		if long && spot.Gte(*tp) || !long && spot.Lte(*tp) {
			return *tp, "take_profit", true
		}
	}
	if sl := p.StopLoss; sl != nil {
		if long && spot.Lte(*sl) || !long && spot.Gte(*sl) {
			return *sl, "stop_loss", true
		}
	}
	return fixed.Zero(), "", false
}

func (c *Contract) triggerTpSl(ctx chain.Context, m TriggerTpSl) (*chain.Response, error) {
	t, err := beginTrade(ctx)
	if err != nil {
		return nil, err
	}
	d := t.d()
	if _, err := requireVamm(ctx, t.cfg, m.Vamm); err != nil {
		return nil, err
	}
	over, err := chain.Query[bool](ctx.Querier, m.Vamm, vamm.IsOverSpreadLimit{})
	if err != nil {
		return nil, err
	}
	if over {
		return nil, ErrOverSpreadLimit
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
	spot, err := spotPrice(ctx, m.Vamm)
	if err != nil {
		return nil, err
	}
	price, kind, ok := tpSlTriggered(pos, spot)
	if !ok {
		return nil, fmt.Errorf("%w: spot %s", ErrTpSlNotTriggered, spot)
	}

	size := pos.Size.Abs()
	notional, err := fixed.MulDec(size, price, d)
	if err != nil {
		return nil, err
	}
	// 平多拿到的报价资产不少于下限，平空付出的不多于上限
	factor, err := d.Sub(t.cfg.TpSlSpread)
	if !pos.IsLong() {
		factor, err = d.Add(t.cfg.TpSlSpread)
	}
	if err != nil {
		return nil, err
	}
	limit, err := fixed.MulDec(notional, factor, d)
	if err != nil {
		return nil, err
	}

	tmp := TmpSwap{Vamm: m.Vamm, Trader: m.Trader, Side: pos.Side().Opposite()}
	if err := tmpSwapItem.Save(ctx.Store, tmp); err != nil {
		return nil, err
	}
	ctx.Logger.Info("tp/sl triggered",
		zap.String("vamm", m.Vamm),
		zap.String("trader", m.Trader),
		zap.String("kind", kind),
		zap.String("spot", spot.String()),
		zap.String("trigger", price.String()))
	t.res.AddAttributes("action", "trigger_tp_sl", "vamm", m.Vamm, "trader", m.Trader, "trigger", kind).
		AddSubMessage(swapOutputMsg(ReplyClose, m.Vamm, pos.CloseDirection(), size, limit, false))
	return t.commit()
}

func optString(v *fixed.Uint) string {
	if v == nil {
		return ""
	}
	return v.String()
}
