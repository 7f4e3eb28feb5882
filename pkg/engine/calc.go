// 文件: pkg/engine/calc.go
// 仓位估值、资金费与保证金率
//
// 【口径】
//   unrealized_pnl  多头 = 现价名义价值 - 开仓名义价值，空头相反
//   funding_payment = -(最新累计资金费 - 仓位记录的累计资金费) · size / D
//   margin_ratio    = (margin + unrealized_pnl + funding_payment) · D / 开仓名义价值
//
// 【面试】为什么保证金率的分母用开仓名义价值而不是现价?
// 现价会随亏损一起变小，分母跟着缩小会让亏损仓位的保证金率看起来更好，
// 强平判断就会滞后。用开仓价值分母是固定的，亏多少就反映多少。

package engine

import (
	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/insurance"
	"vperp.com/pkg/vamm"
)

// positionNotionalAndPnl 按 opt 给仓位估值
func positionNotionalAndPnl(ctx chain.Context, d fixed.Uint, p Position, opt PnlCalcOption) (fixed.Uint, fixed.Integer, error) {
	if p.Size.IsZero() {
		return fixed.Zero(), fixed.Integer{}, nil
	}
	size := p.Size.Abs()

	var (
		notional fixed.Uint
		err      error
	)
	switch opt {
	case TwapPrice:
		notional, err = chain.Query[fixed.Uint](ctx.Querier, p.Vamm, vamm.GetOutputTwap{Direction: p.CloseDirection(), Amount: size})
	case OraclePrice:
		var price fixed.Uint
		if price, err = chain.Query[fixed.Uint](ctx.Querier, p.Vamm, vamm.GetUnderlyingPrice{}); err == nil {
			notional, err = fixed.MulDec(size, price, d)
		}
	default:
		notional, err = chain.Query[fixed.Uint](ctx.Querier, p.Vamm, vamm.GetOutputAmount{Direction: p.CloseDirection(), Amount: size})
	}
	if err != nil {
		return fixed.Zero(), fixed.Integer{}, err
	}
	pnl, err := pnlAt(p, notional)
	return notional, pnl, err
}

// pnlAt 以 notional 平掉整个仓位的盈亏
func pnlAt(p Position, notional fixed.Uint) (fixed.Integer, error) {
	if p.Size.IsNegative() {
		return fixed.NewInteger(p.Notional).SubUint(notional)
	}
	return fixed.NewInteger(notional).SubUint(p.Notional)
}

// fundingPayment 正数表示交易者收到资金费
func fundingPayment(p Position, latest fixed.Integer, d fixed.Uint) (fixed.Integer, error) {
	if p.Size.IsZero() {
		return fixed.Integer{}, nil
	}
	diff, err := latest.Sub(p.LastUpdatedPremiumFraction)
	if err != nil {
		return fixed.Integer{}, err
	}
	pay, err := diff.MulDiv(p.Size, fixed.NewInteger(d))
	if err != nil {
		return fixed.Integer{}, err
	}
	return pay.Neg(), nil
}

// remainMargin margin + delta + 资金费，不够扣的部分记为坏账
type remainMargin struct {
	Remaining      fixed.Uint
	BadDebt        fixed.Uint
	FundingPayment fixed.Integer
}

func calcRemainMargin(p Position, delta, latest fixed.Integer, d fixed.Uint) (remainMargin, error) {
	pay, err := fundingPayment(p, latest, d)
	if err != nil {
		return remainMargin{}, err
	}
	signed, err := fixed.NewInteger(p.Margin).Add(delta)
	if err != nil {
		return remainMargin{}, err
	}
	if signed, err = signed.Add(pay); err != nil {
		return remainMargin{}, err
	}
	out := remainMargin{FundingPayment: pay}
	if signed.IsNegative() {
		out.BadDebt = signed.Abs()
	} else {
		out.Remaining = signed.Abs()
	}
	return out, nil
}

// marginRatio 仓位为空时返回 0
func marginRatio(ctx chain.Context, d fixed.Uint, p Position, latest fixed.Integer, opt PnlCalcOption) (fixed.Integer, error) {
	if p.Size.IsZero() || p.Notional.IsZero() {
		return fixed.Integer{}, nil
	}
	_, pnl, err := positionNotionalAndPnl(ctx, d, p, opt)
	if err != nil {
		return fixed.Integer{}, err
	}
	pay, err := fundingPayment(p, latest, d)
	if err != nil {
		return fixed.Integer{}, err
	}
	num, err := fixed.NewInteger(p.Margin).Add(pnl)
	if err != nil {
		return fixed.Integer{}, err
	}
	if num, err = num.Add(pay); err != nil {
		return fixed.Integer{}, err
	}
	return num.MulDiv(fixed.NewInteger(d), fixed.NewInteger(p.Notional))
}

// liquidationMarginRatio 现价偏离预言机过大时，取现价和预言机两种口径中较高的一个，
// 避免被操纵的现价触发强平
func liquidationMarginRatio(ctx chain.Context, d fixed.Uint, p Position, latest fixed.Integer) (fixed.Integer, error) {
	spot, err := marginRatio(ctx, d, p, latest, SpotPrice)
	if err != nil {
		return fixed.Integer{}, err
	}
	over, err := chain.Query[bool](ctx.Querier, p.Vamm, vamm.IsOverSpreadLimit{})
	if err != nil || !over {
		return spot, err
	}
	oracle, err := marginRatio(ctx, d, p, latest, OraclePrice)
	if err != nil {
		return fixed.Integer{}, err
	}
	if oracle.Gt(spot) {
		return oracle, nil
	}
	return spot, nil
}

// freeCollateral min(margin, margin + pnl) + funding - 开仓名义价值 · IMR
func freeCollateral(ctx chain.Context, cfg Config, p Position, latest fixed.Integer) (fixed.Integer, error) {
	_, pnl, err := positionNotionalAndPnl(ctx, cfg.Decimals, p, SpotPrice)
	if err != nil {
		return fixed.Integer{}, err
	}
	if pnl.IsPositive() {
		pnl = fixed.Integer{}
	}
	pay, err := fundingPayment(p, latest, cfg.Decimals)
	if err != nil {
		return fixed.Integer{}, err
	}
	required, err := fixed.MulDec(p.Notional, cfg.InitialMarginRatio, cfg.Decimals)
	if err != nil {
		return fixed.Integer{}, err
	}
	free, err := fixed.NewInteger(p.Margin).Add(pnl)
	if err != nil {
		return fixed.Integer{}, err
	}
	if free, err = free.Add(pay); err != nil {
		return fixed.Integer{}, err
	}
	return free.SubUint(required)
}

// =============================================================================
// vAMM 查询
// =============================================================================

// requireVamm vAMM 必须在保险基金登记且处于开放状态
func requireVamm(ctx chain.Context, cfg Config, addr string) (vamm.Config, error) {
	if cfg.InsuranceFund == "" {
		return vamm.Config{}, ErrInsuranceNotSet
	}
	registered, err := chain.Query[bool](ctx.Querier, cfg.InsuranceFund, insurance.IsVamm{Vamm: addr})
	if err != nil {
		return vamm.Config{}, err
	}
	if !registered {
		return vamm.Config{}, ErrVammNotRegistered
	}
	st, err := chain.Query[vamm.State](ctx.Querier, addr, vamm.StateQuery{})
	if err != nil {
		return vamm.Config{}, err
	}
	if !st.Open {
		return vamm.Config{}, ErrAmmClosed
	}
	return chain.Query[vamm.Config](ctx.Querier, addr, vamm.ConfigQuery{})
}

func calcFee(ctx chain.Context, addr string, notional fixed.Uint) (vamm.CalcFeeResponse, error) {
	return chain.Query[vamm.CalcFeeResponse](ctx.Querier, addr, vamm.CalcFee{QuoteAssetAmount: notional})
}

func spotPrice(ctx chain.Context, addr string) (fixed.Uint, error) {
	return chain.Query[fixed.Uint](ctx.Querier, addr, vamm.GetSpotPrice{})
}

func swapInputMsg(id uint64, addr string, dir vamm.Direction, quote, limit fixed.Uint, canGoOver bool) chain.SubMsg {
	return chain.SubMsg{
		ID:      id,
		ReplyOn: chain.ReplySuccess,
		Msg: chain.ExecuteMsg{Contract: addr, Msg: vamm.SwapInput{
			Direction:            dir,
			QuoteAssetAmount:     quote,
			BaseAssetLimit:       limit,
			CanGoOverFluctuation: canGoOver,
		}},
	}
}

func swapOutputMsg(id uint64, addr string, dir vamm.Direction, base, limit fixed.Uint, canGoOver bool) chain.SubMsg {
	return chain.SubMsg{
		ID:      id,
		ReplyOn: chain.ReplySuccess,
		Msg: chain.ExecuteMsg{Contract: addr, Msg: vamm.SwapOutput{
			Direction:            dir,
			BaseAssetAmount:      base,
			QuoteAssetLimit:      limit,
			CanGoOverFluctuation: canGoOver,
		}},
	}
}
