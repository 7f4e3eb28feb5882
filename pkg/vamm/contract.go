// 文件: pkg/vamm/contract.go
// 虚拟 AMM 合约
//
// 【职责】
// - 维护一对虚拟储备 (quote, base)，按 x*y=k 报价
// - 只接受保证金引擎的成交请求 (SwapInput / SwapOutput / SettleFunding)
// - 每次储备变化记快照，供 TWAP 和波动限制使用
//
// 【面试】vAMM 和真实 AMM 的区别?
// 没有 LP，也没有真实资产进池子，储备只是定价曲线的状态。
// 抵押品全部在保证金引擎里，vAMM 只负责"按什么价格成交"

package vamm

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
)

var (
	ErrUnauthorized                     = errors.New("unauthorized")
	ErrAmmClosed                        = errors.New("amm is closed")
	ErrInvalidRatio                     = errors.New("ratio must be less than 1")
	ErrInvalidReserve                   = errors.New("reserves must be positive")
	ErrInvalidFundingPeriod             = errors.New("funding period must be positive")
	ErrInvalidDecimals                  = errors.New("invalid decimals")
	ErrInvalidLiquidity                 = errors.New("invalid liquidity multiplier")
	ErrZeroAmount                       = errors.New("swap amount is zero")
	ErrSlippageLimit                    = errors.New("slippage limit reached")
	ErrPriceAlreadyOverFluctuationLimit = errors.New("price is already over fluctuation limit")
	ErrPriceOverFluctuationLimit        = errors.New("price is over fluctuation limit")
	ErrTooEarly                         = errors.New("settle funding called too early")
	ErrInvalidOraclePrice               = errors.New("oracle price is zero")
)

// Contract vAMM 合约
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
	if m.Decimals == 0 || m.Decimals > 18 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDecimals, m.Decimals)
	}
	d := fixed.Pow10(uint(m.Decimals))

	for _, r := range []fixed.Uint{m.TollRatio, m.SpreadRatio, m.FluctuationLimitRatio} {
		if r.Gte(d) {
			return nil, ErrInvalidRatio
		}
	}
	if m.InitialMarginRatio.IsZero() || m.InitialMarginRatio.Gt(d) {
		return nil, ErrInvalidRatio
	}
	if m.QuoteAssetReserve.IsZero() || m.BaseAssetReserve.IsZero() {
		return nil, ErrInvalidReserve
	}
	if m.FundingPeriod == 0 {
		return nil, ErrInvalidFundingPeriod
	}
	for _, addr := range []string{m.Pricefeed, m.MarginEngine, m.InsuranceFund} {
		if addr == "" {
			continue
		}
		if err := chain.ValidateAddress(addr); err != nil {
			return nil, err
		}
	}

	twapInterval := m.SpotPriceTwapInterval
	if twapInterval == 0 {
		twapInterval = DefaultTwapInterval
	}

	cfg := Config{
		Owner:                   info.Sender,
		MarginEngine:            m.MarginEngine,
		InsuranceFund:           m.InsuranceFund,
		Pricefeed:               m.Pricefeed,
		QuoteAsset:              m.QuoteAsset,
		BaseAsset:               m.BaseAsset,
		Decimals:                d,
		TollRatio:               m.TollRatio,
		SpreadRatio:             m.SpreadRatio,
		FluctuationLimitRatio:   m.FluctuationLimitRatio,
		InitialMarginRatio:      m.InitialMarginRatio,
		FundingPeriod:           m.FundingPeriod,
		SpotPriceTwapInterval:   twapInterval,
		BaseAssetHoldingCap:     m.BaseAssetHoldingCap,
		OpenInterestNotionalCap: m.OpenInterestNotionalCap,
	}
	st := State{
		QuoteAssetReserve: m.QuoteAssetReserve,
		BaseAssetReserve:  m.BaseAssetReserve,
	}
	if err := configItem.Save(ctx.Store, cfg); err != nil {
		return nil, err
	}
	if err := stateItem.Save(ctx.Store, st); err != nil {
		return nil, err
	}
	if err := saveSnapshot(ctx, st); err != nil {
		return nil, err
	}
	return chain.NewResponse().AddAttributes(
		"action", "instantiate",
		"pair", m.BaseAsset+"/"+m.QuoteAsset,
		"quote_asset_reserve", m.QuoteAssetReserve.String(),
		"base_asset_reserve", m.BaseAssetReserve.String(),
	), nil
}

// =============================================================================
// Execute
// =============================================================================

func (c *Contract) Execute(ctx chain.Context, info chain.MessageInfo, msg any) (*chain.Response, error) {
	cfg, err := configItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}

	switch m := msg.(type) {
	case SwapInput:
		if info.Sender != cfg.MarginEngine {
			return nil, ErrUnauthorized
		}
		return c.swapInput(ctx, cfg, m)
	case SwapOutput:
		if info.Sender != cfg.MarginEngine {
			return nil, ErrUnauthorized
		}
		return c.swapOutput(ctx, cfg, m)
	case SettleFunding:
		if info.Sender != cfg.MarginEngine {
			return nil, ErrUnauthorized
		}
		return c.settleFunding(ctx, cfg)
	case SetOpen:
		// 保险基金只能关闭 (ShutdownVamms)
		if info.Sender != cfg.Owner && !(info.Sender == cfg.InsuranceFund && !m.Open) {
			return nil, ErrUnauthorized
		}
		return c.setOpen(ctx, cfg, m.Open)
	case UpdateConfig:
		if info.Sender != cfg.Owner {
			return nil, ErrUnauthorized
		}
		return c.updateConfig(ctx, cfg, m)
	case MigrateLiquidity:
		if info.Sender != cfg.Owner {
			return nil, ErrUnauthorized
		}
		return c.migrateLiquidity(ctx, cfg, m)
	}
	return nil, fmt.Errorf("%w: %T", chain.ErrUnknownMessage, msg)
}

func (c *Contract) setOpen(ctx chain.Context, cfg Config, open bool) (*chain.Response, error) {
	st, err := stateItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	st.Open = open
	// 首次开启或者关闭期间错过了资金费结算，从现在重新计时
	if open && st.NextFundingTime < ctx.Env.Block.Time {
		st.NextFundingTime = ctx.Env.Block.Time + cfg.FundingPeriod
	}
	if err := stateItem.Save(ctx.Store, st); err != nil {
		return nil, err
	}
	ctx.Logger.Info("vamm open state changed", zap.Bool("open", open), zap.Uint64("next_funding_time", st.NextFundingTime))
	return chain.NewResponse().AddAttributes("action", "set_open", "open", fmt.Sprint(open)), nil
}

func (c *Contract) updateConfig(ctx chain.Context, cfg Config, m UpdateConfig) (*chain.Response, error) {
	d := cfg.Decimals
	setRatio := func(dst *fixed.Uint, v *fixed.Uint) error {
		if v == nil {
			return nil
		}
		if v.Gte(d) {
			return ErrInvalidRatio
		}
		*dst = *v
		return nil
	}
	setAddr := func(dst *string, v *string) error {
		if v == nil {
			return nil
		}
		if err := chain.ValidateAddress(*v); err != nil {
			return err
		}
		*dst = *v
		return nil
	}

	for _, err := range []error{
		setRatio(&cfg.TollRatio, m.TollRatio),
		setRatio(&cfg.SpreadRatio, m.SpreadRatio),
		setRatio(&cfg.FluctuationLimitRatio, m.FluctuationLimitRatio),
		setAddr(&cfg.Owner, m.Owner),
		setAddr(&cfg.MarginEngine, m.MarginEngine),
		setAddr(&cfg.InsuranceFund, m.InsuranceFund),
		setAddr(&cfg.Pricefeed, m.Pricefeed),
	} {
		if err != nil {
			return nil, err
		}
	}
	if m.InitialMarginRatio != nil {
		if m.InitialMarginRatio.IsZero() || m.InitialMarginRatio.Gt(d) {
			return nil, ErrInvalidRatio
		}
		cfg.InitialMarginRatio = *m.InitialMarginRatio
	}
	if m.BaseAssetHoldingCap != nil {
		cfg.BaseAssetHoldingCap = *m.BaseAssetHoldingCap
	}
	if m.OpenInterestNotionalCap != nil {
		cfg.OpenInterestNotionalCap = *m.OpenInterestNotionalCap
	}
	if m.SpotPriceTwapInterval != nil {
		cfg.SpotPriceTwapInterval = *m.SpotPriceTwapInterval
	}
	if m.FundingPeriod != nil {
		if *m.FundingPeriod == 0 {
			return nil, ErrInvalidFundingPeriod
		}
		cfg.FundingPeriod = *m.FundingPeriod
	}

	if err := configItem.Save(ctx.Store, cfg); err != nil {
		return nil, err
	}
	return chain.NewResponse().AddAttribute("action", "update_config"), nil
}

// migrateLiquidity 等比缩放储备，价格不变
func (c *Contract) migrateLiquidity(ctx chain.Context, cfg Config, m MigrateLiquidity) (*chain.Response, error) {
	if m.LiquidityMultiplier.IsZero() {
		return nil, ErrInvalidLiquidity
	}
	st, err := stateItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	quote, err := fixed.MulDec(st.QuoteAssetReserve, m.LiquidityMultiplier, cfg.Decimals)
	if err != nil {
		return nil, err
	}
	base, err := fixed.MulDec(st.BaseAssetReserve, m.LiquidityMultiplier, cfg.Decimals)
	if err != nil {
		return nil, err
	}
	if quote.IsZero() || base.IsZero() {
		return nil, ErrInvalidReserve
	}
	// 净空头平仓要从池子里取回基础资产，缩容后必须取得出来
	if st.TotalPositionSize.IsNegative() && base.Lte(st.TotalPositionSize.Abs()) {
		return nil, fmt.Errorf("%w: base reserve %s cannot cover net short %s", ErrInvalidLiquidity, base, st.TotalPositionSize.Abs())
	}
	if m.FluctuationLimitRatio != nil {
		if m.FluctuationLimitRatio.Gte(cfg.Decimals) {
			return nil, ErrInvalidRatio
		}
		cfg.FluctuationLimitRatio = *m.FluctuationLimitRatio
		if err := configItem.Save(ctx.Store, cfg); err != nil {
			return nil, err
		}
	}

	st.QuoteAssetReserve, st.BaseAssetReserve = quote, base
	if err := stateItem.Save(ctx.Store, st); err != nil {
		return nil, err
	}
	if err := saveSnapshot(ctx, st); err != nil {
		return nil, err
	}
	ctx.Logger.Info("liquidity migrated",
		zap.String("multiplier", m.LiquidityMultiplier.String()),
		zap.String("quote_asset_reserve", quote.String()),
		zap.String("base_asset_reserve", base.String()))
	return chain.NewResponse().AddAttributes(
		"action", "migrate_liquidity",
		"quote_asset_reserve", quote.String(),
		"base_asset_reserve", base.String(),
	), nil
}
