// 文件: pkg/vamm/funding.go
// 资金费率结算
//
// 【公式】
//   premium          = spot_twap - oracle_twap
//   premium_fraction = premium * funding_period / 1 day
//   funding_rate     = premium_fraction / oracle_twap
//
// premium_fraction > 0: 标记价高于指数价，多头付钱给空头

package vamm

import (
	"fmt"

	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/pricefeed"
)

func (c *Contract) settleFunding(ctx chain.Context, cfg Config) (*chain.Response, error) {
	st, err := loadOpenState(ctx)
	if err != nil {
		return nil, err
	}
	now := ctx.Env.Block.Time
	if now < st.NextFundingTime {
		return nil, fmt.Errorf("%w: now %d, next funding %d", ErrTooEarly, now, st.NextFundingTime)
	}

	oracleTwap, err := pricefeed.NewClient(ctx.Querier, cfg.Pricefeed).GetTwapPrice(cfg.BaseAsset, cfg.SpotPriceTwapInterval)
	if err != nil {
		return nil, err
	}
	if oracleTwap.IsZero() {
		return nil, ErrInvalidOraclePrice
	}
	markTwap, err := spotTwap(ctx, cfg, cfg.SpotPriceTwapInterval)
	if err != nil {
		return nil, err
	}

	premium, err := fixed.NewInteger(markTwap).SubUint(oracleTwap)
	if err != nil {
		return nil, err
	}
	premiumFraction, err := premium.MulDiv(fixed.NewInteger(fixed.NewUint(cfg.FundingPeriod)), fixed.NewInteger(fixed.NewUint(OneDay)))
	if err != nil {
		return nil, err
	}
	fundingRate, err := premiumFraction.MulDiv(fixed.NewInteger(cfg.Decimals), fixed.NewInteger(oracleTwap))
	if err != nil {
		return nil, err
	}

	st.FundingRate = fundingRate
	st.NextFundingTime = nextFundingTime(st.NextFundingTime, now, cfg.FundingPeriod)
	if err := stateItem.Save(ctx.Store, st); err != nil {
		return nil, err
	}

	ctx.Logger.Info("funding settled",
		zap.String("premium_fraction", premiumFraction.String()),
		zap.String("funding_rate", fundingRate.String()),
		zap.String("spot_twap", markTwap.String()),
		zap.String("oracle_twap", oracleTwap.String()),
		zap.Uint64("next_funding_time", st.NextFundingTime))

	return chain.NewResponse().AddAttributes(
		"action", "settle_funding",
		"premium_fraction", premiumFraction.String(),
		"funding_rate", fundingRate.String(),
		"underlying_price", oracleTwap.String(),
		"spot_price", markTwap.String(),
		"next_funding_time", fmt.Sprint(st.NextFundingTime),
	), nil
}

// nextFundingTime 缓冲期内结算顺延一个周期；
// 错过缓冲期则对齐到 now 之后的下一个周期点，错过的周期不追补
func nextFundingTime(scheduled, now, period uint64) uint64 {
	if next := scheduled + period; now < scheduled+FundingBufferPeriod && next > now {
		return next
	}
	missed := (now - scheduled) / period
	return scheduled + (missed+1)*period
}
