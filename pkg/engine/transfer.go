// 文件: pkg/engine/transfer.go
// 抵押品划转
//
// 【设计】
// 所有划转都作为子消息挂在本次响应上，失败时通过 ReplyTransferFailure 回调记日志并中止整个交易。
//
// 入金两种方式:
//   1. 预付 (原生币随消息附带 / cw20 Send)，资金已在引擎账上，记在 sent-funds 里逐笔消耗，
//      最后把没用完的退回给交易者
//   2. 授权 (cw20 allowance)，需要时用 TransferFrom 拉取
//
// 出金时引擎余额不够就先从保险基金提取差额，差额记为预付坏账 (prepaid_bad_debt)，
// 之后真正确认坏账时优先冲抵这部分。

package engine

import (
	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/insurance"
	"vperp.com/pkg/metrics"
)

// txn 一次执行 / 回调内共享的上下文
type txn struct {
	ctx chain.Context
	cfg Config
	st  State
	res *chain.Response

	outflow fixed.Uint // 本次已安排转出
	inflow  fixed.Uint // 本次已安排从保险基金转入
}

func begin(ctx chain.Context) (*txn, error) {
	cfg, err := configItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	st, err := stateItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	return &txn{ctx: ctx, cfg: cfg, st: st, res: chain.NewResponse()}, nil
}

func (t *txn) d() fixed.Uint { return t.cfg.Decimals }

func (t *txn) commit() (*chain.Response, error) {
	if err := stateItem.Save(t.ctx.Store, t.st); err != nil {
		return nil, err
	}
	return t.res, nil
}

func (t *txn) transferMsg(recipient string, amount fixed.Uint) chain.SubMsg {
	return chain.SubMsg{
		ID:      ReplyTransferFailure,
		Msg:     t.cfg.EligibleCollateral.TransferMsg(recipient, amount),
		ReplyOn: chain.ReplyError,
	}
}

// pull 从交易者收取 amount 给 recipient
func (t *txn) pull(trader, recipient string, amount fixed.Uint) error {
	if amount.IsZero() {
		return nil
	}
	sent, err := sentFundsItem.MayLoad(t.ctx.Store)
	if err != nil {
		return err
	}
	if sent != nil {
		left, err := sent.Amount.Sub(amount)
		if err != nil {
			return ErrFundsMismatch
		}
		sent.Amount = left
		if err := sentFundsItem.Save(t.ctx.Store, *sent); err != nil {
			return err
		}
		if recipient != t.ctx.Env.Contract {
			t.res.AddSubMessage(t.transferMsg(recipient, amount))
		}
		return nil
	}

	msg, err := t.cfg.EligibleCollateral.TransferFromMsg(trader, recipient, amount)
	if err != nil {
		return ErrFundsMismatch
	}
	t.res.AddSubMessage(chain.SubMsg{ID: ReplyTransferFailure, Msg: msg, ReplyOn: chain.ReplyError})
	return nil
}

// payFees 开仓类操作的手续费由交易者支付: spread 给保险基金，toll 给手续费池
func (t *txn) payFees(tmp *TmpSwap) error {
	if tmp.FeesPaid {
		return nil
	}
	tmp.FeesPaid = true
	if !tmp.SpreadFee.IsZero() {
		if t.cfg.InsuranceFund == "" {
			return ErrInsuranceNotSet
		}
		if err := t.pull(tmp.Trader, t.cfg.InsuranceFund, tmp.SpreadFee); err != nil {
			return err
		}
	}
	if !tmp.TollFee.IsZero() {
		if t.cfg.FeePool == "" {
			return ErrInvalidConfig
		}
		if err := t.pull(tmp.Trader, t.cfg.FeePool, tmp.TollFee); err != nil {
			return err
		}
	}
	t.res.AddAttributes("spread_fee", tmp.SpreadFee.String(), "toll_fee", tmp.TollFee.String())
	return nil
}

// available 引擎可以动用的余额: 账上余额 - 未消耗的预付资金 - 已安排的转出 + 已安排的转入
func (t *txn) available() (fixed.Uint, error) {
	bal, err := t.cfg.EligibleCollateral.Balance(t.ctx.Querier, t.ctx.Env.Contract)
	if err != nil {
		return fixed.Zero(), err
	}
	sent, err := sentFundsItem.MayLoad(t.ctx.Store)
	if err != nil {
		return fixed.Zero(), err
	}
	if sent != nil {
		bal = bal.SaturatingSub(sent.Amount)
	}
	if bal, err = bal.Add(t.inflow); err != nil {
		return fixed.Zero(), err
	}
	return bal.SaturatingSub(t.outflow), nil
}

// withdraw 从引擎付出 amount，余额不足时由保险基金补足
func (t *txn) withdraw(recipient string, amount fixed.Uint) error {
	if amount.IsZero() {
		return nil
	}
	avail, err := t.available()
	if err != nil {
		return err
	}
	if avail.Lt(amount) {
		shortfall, _ := amount.Sub(avail)
		if t.st.PrepaidBadDebt, err = t.st.PrepaidBadDebt.Add(shortfall); err != nil {
			return err
		}
		if err := t.drawInsurance(shortfall); err != nil {
			return err
		}
		t.ctx.Logger.Warn("engine balance short, drawing insurance fund",
			zap.String("recipient", recipient),
			zap.String("shortfall", shortfall.String()))
	}
	if t.outflow, err = t.outflow.Add(amount); err != nil {
		return err
	}
	t.res.AddSubMessage(t.transferMsg(recipient, amount))
	return nil
}

// realizeBadDebt 确认坏账: 先冲抵预付坏账，不够的部分从保险基金提取
func (t *txn) realizeBadDebt(badDebt fixed.Uint) error {
	if badDebt.IsZero() {
		return nil
	}
	metrics.BadDebtRealized.Add(badDebt.Float64() / t.d().Float64())
	if t.st.PrepaidBadDebt.Gte(badDebt) {
		t.st.PrepaidBadDebt, _ = t.st.PrepaidBadDebt.Sub(badDebt)
		return nil
	}
	need, _ := badDebt.Sub(t.st.PrepaidBadDebt)
	t.st.PrepaidBadDebt = fixed.Zero()
	return t.drawInsurance(need)
}

func (t *txn) drawInsurance(amount fixed.Uint) error {
	if t.cfg.InsuranceFund == "" {
		return ErrInsuranceNotSet
	}
	var err error
	if t.inflow, err = t.inflow.Add(amount); err != nil {
		return err
	}
	t.res.AddSubMessage(chain.SubMsg{
		ID:      ReplyTransferFailure,
		ReplyOn: chain.ReplyError,
		Msg: chain.ExecuteMsg{
			Contract: t.cfg.InsuranceFund,
			Msg:      insurance.Withdraw{Token: t.cfg.EligibleCollateral, Amount: amount},
		},
	})
	return nil
}

// refundSentFunds 退回没用完的预付资金
func (t *txn) refundSentFunds() error {
	sent, err := sentFundsItem.MayLoad(t.ctx.Store)
	if err != nil || sent == nil {
		return err
	}
	if err := sentFundsItem.Remove(t.ctx.Store); err != nil {
		return err
	}
	if !sent.Amount.IsZero() {
		t.res.AddSubMessage(t.transferMsg(sent.Trader, sent.Amount))
		t.res.AddAttributes("refund", sent.Amount.String())
	}
	return nil
}

// settleMarginToVault 正数拉入，负数付给交易者
func (t *txn) settleMarginToVault(trader string, mtv fixed.Integer) error {
	if mtv.IsNegative() {
		return t.withdraw(trader, mtv.Abs())
	}
	return t.pull(trader, t.ctx.Env.Contract, mtv.Abs())
}
