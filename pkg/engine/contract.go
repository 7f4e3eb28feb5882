// 文件: pkg/engine/contract.go
// 保证金引擎合约
//
// 【职责】
// - 托管所有交易者的抵押品 (唯一持有真实资产的合约)
// - 开平仓、强平、资金费结算都拆成两步:
//   1. 校验 + 记录 TmpSwap + 向 vAMM 发成交子消息
//   2. 在 Reply 里读成交结果，更新仓位、划转资金
// - 白名单 / 暂停 / 每区块一次操作限制
//
// 【面试】为什么要两阶段?
// 合约不能同步调用另一个合约拿返回值，只能发子消息。
// 成交价格只有 vAMM 执行完才知道，所以仓位更新只能放在回调里做。
// 任何一步失败整个交易回滚，TmpSwap 也跟着消失，不会留下半成品。

package engine

import (
	"fmt"

	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/cw20"
	"vperp.com/pkg/fixed"
)

// NativeDecimals 原生币抵押品默认精度
const NativeDecimals = 6

// Contract 保证金引擎
type Contract struct{}

func New() *Contract { return &Contract{} }

// =============================================================================
// Instantiate
// =============================================================================

func (c *Contract) Instantiate(ctx chain.Context, info chain.MessageInfo, msg any) (*chain.Response, error) {
	m, ok := msg.(InstantiateMsg)
	if !ok {
		return nil, fmt.Errorf("%w: %T", chain.ErrUnknownMessage, msg)
	}
	if err := m.EligibleCollateral.Validate(); err != nil {
		return nil, err
	}
	nativeDecimals := m.Decimals
	if nativeDecimals == 0 {
		nativeDecimals = NativeDecimals
	}
	decimals, err := m.EligibleCollateral.Decimals(ctx.Querier, nativeDecimals)
	if err != nil {
		return nil, err
	}
	if decimals == 0 || decimals > 18 {
		return nil, fmt.Errorf("%w: decimals %d", ErrInvalidConfig, decimals)
	}

	cfg := Config{
		Owner:                   info.Sender,
		Pauser:                  m.Pauser,
		InsuranceFund:           m.InsuranceFund,
		FeePool:                 m.FeePool,
		EligibleCollateral:      m.EligibleCollateral,
		Decimals:                fixed.Pow10(uint(decimals)),
		InitialMarginRatio:      m.InitialMarginRatio,
		MaintenanceMarginRatio:  m.MaintenanceMarginRatio,
		PartialLiquidationRatio: m.PartialLiquidationRatio,
		TpSlSpread:              m.TpSlSpread,
		LiquidationFee:          m.LiquidationFee,
	}
	if cfg.Pauser == "" {
		cfg.Pauser = info.Sender
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if err := configItem.Save(ctx.Store, cfg); err != nil {
		return nil, err
	}
	if err := stateItem.Save(ctx.Store, State{}); err != nil {
		return nil, err
	}
	ctx.Logger.Info("margin engine instantiated",
		zap.String("collateral", cfg.EligibleCollateral.String()),
		zap.Uint8("decimals", decimals))
	return chain.NewResponse().AddAttributes("action", "instantiate", "decimals", cfg.Decimals.String()), nil
}

func validateConfig(cfg Config) error {
	d := cfg.Decimals
	if cfg.InitialMarginRatio.IsZero() || cfg.InitialMarginRatio.Gt(d) {
		return fmt.Errorf("%w: initial margin ratio", ErrInvalidConfig)
	}
	if cfg.MaintenanceMarginRatio.IsZero() || cfg.MaintenanceMarginRatio.Gt(cfg.InitialMarginRatio) {
		return fmt.Errorf("%w: maintenance margin ratio", ErrInvalidConfig)
	}
	for name, r := range map[string]fixed.Uint{
		"partial liquidation ratio": cfg.PartialLiquidationRatio,
		"liquidation fee":           cfg.LiquidationFee,
		"tp/sl spread":              cfg.TpSlSpread,
	} {
		if r.Gte(d) {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, name)
		}
	}
	for _, addr := range []string{cfg.Owner, cfg.Pauser, cfg.Operator, cfg.InsuranceFund, cfg.FeePool} {
		if addr == "" {
			continue
		}
		if err := chain.ValidateAddress(addr); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Execute
// =============================================================================

func (c *Contract) Execute(ctx chain.Context, info chain.MessageInfo, msg any) (*chain.Response, error) {
	switch m := msg.(type) {
	case cw20.ReceiveMsg:
		return c.receive(ctx, info, m)
	case OpenPosition:
		return c.openPosition(ctx, info, info.Sender, m, nil)
	case ClosePosition:
		return c.closePosition(ctx, info.Sender, m)
	case Liquidate:
		return c.liquidate(ctx, info.Sender, m)
	case PayFunding:
		return c.payFunding(ctx, info.Sender, m)
	case DepositMargin:
		return c.depositMargin(ctx, info, info.Sender, m, nil)
	case WithdrawMargin:
		return c.withdrawMargin(ctx, info.Sender, m)
	case UpdateTpSl:
		return c.updateTpSl(ctx, info.Sender, m)
	case TriggerTpSl:
		return c.triggerTpSl(ctx, m)
	case SetPause:
		return c.setPause(ctx, info.Sender, m.Pause)
	case UpdateConfig:
		return c.updateConfig(ctx, info.Sender, m)
	case AddWhitelist:
		return c.updateWhitelist(ctx, info.Sender, m.Address, true)
	case RemoveWhitelist:
		return c.updateWhitelist(ctx, info.Sender, m.Address, false)
	}
	return nil, fmt.Errorf("%w: %T", chain.ErrUnknownMessage, msg)
}

// receive cw20 Send 入金: info.Sender 是代币合约，m.Sender 是交易者
func (c *Contract) receive(ctx chain.Context, info chain.MessageInfo, m cw20.ReceiveMsg) (*chain.Response, error) {
	cfg, err := configItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	if cfg.EligibleCollateral.IsNative() {
		return nil, ErrCollateralNotToken
	}
	if info.Sender != cfg.EligibleCollateral.Contract {
		return nil, fmt.Errorf("%w: token %s is not the collateral", ErrUnauthorized, info.Sender)
	}
	amount := m.Amount
	switch inner := m.Msg.(type) {
	case OpenPosition:
		return c.openPosition(ctx, info, m.Sender, inner, &amount)
	case DepositMargin:
		return c.depositMargin(ctx, info, m.Sender, inner, &amount)
	}
	return nil, fmt.Errorf("%w: receive %T", chain.ErrUnknownMessage, m.Msg)
}

func (c *Contract) setPause(ctx chain.Context, sender string, pause bool) (*chain.Response, error) {
	t, err := begin(ctx)
	if err != nil {
		return nil, err
	}
	if sender != t.cfg.Owner && sender != t.cfg.Pauser {
		return nil, ErrUnauthorized
	}
	if t.st.Pause == pause {
		return nil, ErrPauseNotToggled
	}
	t.st.Pause = pause
	ctx.Logger.Warn("margin engine pause toggled", zap.Bool("pause", pause), zap.String("by", sender))
	t.res.AddAttributes("action", "set_pause", "pause", fmt.Sprint(pause))
	return t.commit()
}

func (c *Contract) updateConfig(ctx chain.Context, sender string, m UpdateConfig) (*chain.Response, error) {
	cfg, err := configItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	if sender != cfg.Owner {
		return nil, ErrUnauthorized
	}
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setUint := func(dst *fixed.Uint, v *fixed.Uint) {
		if v != nil {
			*dst = *v
		}
	}
	setString(&cfg.Owner, m.Owner)
	setString(&cfg.Pauser, m.Pauser)
	setString(&cfg.Operator, m.Operator)
	setString(&cfg.InsuranceFund, m.InsuranceFund)
	setString(&cfg.FeePool, m.FeePool)
	setUint(&cfg.InitialMarginRatio, m.InitialMarginRatio)
	setUint(&cfg.MaintenanceMarginRatio, m.MaintenanceMarginRatio)
	setUint(&cfg.PartialLiquidationRatio, m.PartialLiquidationRatio)
	setUint(&cfg.TpSlSpread, m.TpSlSpread)
	setUint(&cfg.LiquidationFee, m.LiquidationFee)
	if cfg.Owner == "" {
		return nil, fmt.Errorf("%w: owner", ErrInvalidConfig)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if err := configItem.Save(ctx.Store, cfg); err != nil {
		return nil, err
	}
	return chain.NewResponse().AddAttribute("action", "update_config"), nil
}

func (c *Contract) updateWhitelist(ctx chain.Context, sender, addr string, add bool) (*chain.Response, error) {
	cfg, err := configItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	if sender != cfg.Owner {
		return nil, ErrUnauthorized
	}
	if err := chain.ValidateAddress(addr); err != nil {
		return nil, err
	}
	action := "add_whitelist"
	if add {
		err = whitelist.Save(ctx.Store, []byte(addr), true)
	} else {
		action = "remove_whitelist"
		err = whitelist.Remove(ctx.Store, []byte(addr))
	}
	if err != nil {
		return nil, err
	}
	return chain.NewResponse().AddAttributes("action", action, "address", addr), nil
}

// assertFunds 预付金额必须恰好等于 required
func assertFunds(cfg Config, info chain.MessageInfo, prepaid *fixed.Uint, required fixed.Uint) (bool, error) {
	switch {
	case prepaid != nil:
		if !prepaid.Eq(required) {
			return false, fmt.Errorf("%w: sent %s, required %s", ErrFundsMismatch, prepaid, required)
		}
		return true, nil
	case cfg.EligibleCollateral.IsNative():
		if err := cfg.EligibleCollateral.AssertSentExact(info, required); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
