// 文件: pkg/vamm/query.go
// vAMM 查询

package vamm

import (
	"fmt"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/pricefeed"
	"vperp.com/pkg/token"
)

func (c *Contract) Query(ctx chain.Context, req any) (any, error) {
	cfg, err := configItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	switch req.(type) {
	case ConfigQuery:
		return cfg, nil
	case token.DecimalsQuery:
		return cfg.Decimals, nil
	}
	st, err := stateItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}

	switch q := req.(type) {
	case StateQuery:
		return st, nil
	case GetSpotPrice:
		return spotPrice(cfg, st)
	case GetInputAmount:
		return InputPrice(q.Direction, q.Amount, st.QuoteAssetReserve, st.BaseAssetReserve)
	case GetOutputAmount:
		return OutputPrice(q.Direction, q.Amount, st.QuoteAssetReserve, st.BaseAssetReserve)
	case GetInputPrice:
		base, err := InputPrice(q.Direction, q.Amount, st.QuoteAssetReserve, st.BaseAssetReserve)
		if err != nil {
			return nil, err
		}
		return fixed.DivDec(q.Amount, base, cfg.Decimals)
	case GetOutputPrice:
		quote, err := OutputPrice(q.Direction, q.Amount, st.QuoteAssetReserve, st.BaseAssetReserve)
		if err != nil {
			return nil, err
		}
		return fixed.DivDec(quote, q.Amount, cfg.Decimals)
	case GetInputTwap:
		return snapshotTwap(ctx, cfg, cfg.SpotPriceTwapInterval, func(s ReserveSnapshot) (fixed.Uint, error) {
			return InputPrice(q.Direction, q.Amount, s.QuoteAssetReserve, s.BaseAssetReserve)
		})
	case GetOutputTwap:
		return snapshotTwap(ctx, cfg, cfg.SpotPriceTwapInterval, func(s ReserveSnapshot) (fixed.Uint, error) {
			return OutputPrice(q.Direction, q.Amount, s.QuoteAssetReserve, s.BaseAssetReserve)
		})
	case GetTwapPrice:
		return spotTwap(ctx, cfg, q.Interval)
	case CalcFee:
		return calcFee(cfg, q.QuoteAssetAmount)
	case IsOverSpreadLimit:
		return isOverSpreadLimit(ctx, cfg, st)
	case IsOverFluctuationLimit:
		return isOverFluctuationLimit(ctx, cfg, st, q.Direction, q.BaseAssetAmount)
	case GetUnderlyingPrice:
		return pricefeed.NewClient(ctx.Querier, cfg.Pricefeed).GetPrice(cfg.BaseAsset)
	case GetUnderlyingTwapPrice:
		return pricefeed.NewClient(ctx.Querier, cfg.Pricefeed).GetTwapPrice(cfg.BaseAsset, q.Interval)
	case ReserveSnapshots:
		return reserveSnapshots(ctx, q)
	case ReserveSnapshotHeight:
		return loadSnapshotHeight(ctx.Store)
	}
	return nil, fmt.Errorf("%w: %T", chain.ErrUnknownQuery, req)
}

func calcFee(cfg Config, quote fixed.Uint) (CalcFeeResponse, error) {
	spread, err := fixed.MulDec(quote, cfg.SpreadRatio, cfg.Decimals)
	if err != nil {
		return CalcFeeResponse{}, err
	}
	toll, err := fixed.MulDec(quote, cfg.TollRatio, cfg.Decimals)
	if err != nil {
		return CalcFeeResponse{}, err
	}
	return CalcFeeResponse{SpreadFee: spread, TollFee: toll}, nil
}

// isOverSpreadLimit 现货价偏离预言机价超过 10%
func isOverSpreadLimit(ctx chain.Context, cfg Config, st State) (bool, error) {
	oracle, err := pricefeed.NewClient(ctx.Querier, cfg.Pricefeed).GetPrice(cfg.BaseAsset)
	if err != nil {
		return false, err
	}
	if oracle.IsZero() {
		return false, ErrInvalidOraclePrice
	}
	spot, err := spotPrice(cfg, st)
	if err != nil {
		return false, err
	}
	diff, err := fixed.NewInteger(spot).SubUint(oracle)
	if err != nil {
		return false, err
	}
	ratio, err := fixed.DivDec(diff.Abs(), oracle, cfg.Decimals)
	if err != nil {
		return false, err
	}
	limit, err := cfg.Decimals.Div(fixed.NewUint(10))
	if err != nil {
		return false, err
	}
	return ratio.Gt(limit), nil
}

// =============================================================================
// TWAP
// =============================================================================

func spotTwap(ctx chain.Context, cfg Config, interval uint64) (fixed.Uint, error) {
	return snapshotTwap(ctx, cfg, interval, func(s ReserveSnapshot) (fixed.Uint, error) {
		return s.Price(cfg.Decimals)
	})
}

// snapshotTwap 对快照上的某个量 (现货价 / 成交量) 做时间加权
func snapshotTwap(ctx chain.Context, cfg Config, interval uint64, value func(ReserveSnapshot) (fixed.Uint, error)) (fixed.Uint, error) {
	latest, idx, err := latestSnapshot(ctx.Store)
	if err != nil {
		return fixed.Zero(), err
	}
	v, err := value(latest)
	if err != nil {
		return fixed.Zero(), err
	}
	walker := func() (pricefeed.Observation, bool, error) {
		if idx <= 1 {
			return pricefeed.Observation{}, false, nil
		}
		idx--
		snap, err := loadSnapshot(ctx.Store, idx)
		if err != nil {
			return pricefeed.Observation{}, false, err
		}
		v, err := value(snap)
		if err != nil {
			return pricefeed.Observation{}, false, err
		}
		return pricefeed.Observation{Price: v, Timestamp: snap.Timestamp}, true, nil
	}
	return pricefeed.TWAP(ctx.Env.Block.Time, interval, pricefeed.Observation{Price: v, Timestamp: latest.Timestamp}, walker)
}

// reserveSnapshots 从 Start (0 表示最新) 往前分页
func reserveSnapshots(ctx chain.Context, q ReserveSnapshots) (SnapshotsResponse, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSnapshotsLimit
	}
	if limit > MaxSnapshotsLimit {
		limit = MaxSnapshotsLimit
	}
	h, err := loadSnapshotHeight(ctx.Store)
	if err != nil {
		return SnapshotsResponse{}, err
	}
	start := q.Start
	if start == 0 || start > h {
		start = h
	}

	out := SnapshotsResponse{Snapshots: make([]ReserveSnapshot, 0, limit)}
	for i := start; i >= 1 && len(out.Snapshots) < limit; i-- {
		snap, err := loadSnapshot(ctx.Store, i)
		if err != nil {
			return SnapshotsResponse{}, err
		}
		out.Snapshots = append(out.Snapshots, snap)
	}
	return out, nil
}
