// 文件: pkg/engine/query.go
// 保证金引擎查询

package engine

import (
	"fmt"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/insurance"
	"vperp.com/pkg/token"
)

const (
	DefaultQueryLimit = 10
	MaxQueryLimit     = 100
)

func (c *Contract) Query(ctx chain.Context, req any) (any, error) {
	cfg, err := configItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	d := cfg.Decimals

	switch q := req.(type) {
	case ConfigQuery:
		return cfg, nil
	case token.DecimalsQuery:
		return cfg.Decimals, nil
	case StateQuery:
		return stateItem.Load(ctx.Store)
	case TmpSwapQuery:
		return tmpSwapItem.MayLoad(ctx.Store)

	case PositionQuery:
		return mustLoadPosition(ctx.Store, q.Vamm, q.Trader)
	case AllPositions:
		return allPositions(ctx, cfg, q.Trader)
	case PositionsByVamm:
		return positionsByVamm(ctx, q)

	case UnrealizedPnl:
		pos, err := mustLoadPosition(ctx.Store, q.Vamm, q.Trader)
		if err != nil {
			return nil, err
		}
		notional, pnl, err := positionNotionalAndPnl(ctx, d, pos, q.Option)
		if err != nil {
			return nil, err
		}
		return PnlResponse{PositionNotional: notional, UnrealizedPnl: pnl}, nil
	case CumulativePremiumFraction:
		vm, err := loadVammMap(ctx.Store, q.Vamm)
		if err != nil {
			return nil, err
		}
		return vm.LatestPremiumFraction(), nil
	case MarginRatio:
		pos, latest, err := positionWithLatest(ctx, q.Vamm, q.Trader)
		if err != nil {
			return nil, err
		}
		return marginRatio(ctx, d, pos, latest, SpotPrice)
	case FreeCollateral:
		pos, latest, err := positionWithLatest(ctx, q.Vamm, q.Trader)
		if err != nil {
			return nil, err
		}
		return freeCollateral(ctx, cfg, pos, latest)
	case PositionWithFundingPayment:
		pos, latest, err := positionWithLatest(ctx, q.Vamm, q.Trader)
		if err != nil {
			return nil, err
		}
		return withFunding(pos, latest, d)
	case BalanceWithFundingPayment:
		list, err := allPositions(ctx, cfg, q.Trader)
		if err != nil {
			return nil, err
		}
		total := fixed.Zero()
		for _, p := range list {
			vm, err := loadVammMap(ctx.Store, p.Vamm)
			if err != nil {
				return nil, err
			}
			adjusted, err := withFunding(p, vm.LatestPremiumFraction(), d)
			if err != nil {
				return nil, err
			}
			if total, err = total.Add(adjusted.Margin); err != nil {
				return nil, err
			}
		}
		return total, nil

	case IsWhitelisted:
		return isWhitelisted(ctx.Store, q.Address)
	case GetWhitelist:
		out := []string{}
		err := whitelist.Range(ctx.Store, nil, nil, clampLimit(q.Limit), false, func(k []byte, _ bool) bool {
			out = append(out, string(k))
			return true
		})
		return out, err
	}
	return nil, fmt.Errorf("%w: %T", chain.ErrUnknownQuery, req)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

func positionWithLatest(ctx chain.Context, vammAddr, trader string) (Position, fixed.Integer, error) {
	pos, err := mustLoadPosition(ctx.Store, vammAddr, trader)
	if err != nil {
		return Position{}, fixed.Integer{}, err
	}
	vm, err := loadVammMap(ctx.Store, vammAddr)
	if err != nil {
		return Position{}, fixed.Integer{}, err
	}
	return pos, vm.LatestPremiumFraction(), nil
}

// withFunding 保证金按未结算的资金费调整，亏穿时记为 0
func withFunding(p Position, latest fixed.Integer, d fixed.Uint) (Position, error) {
	rm, err := calcRemainMargin(p, fixed.Integer{}, latest, d)
	if err != nil {
		return Position{}, err
	}
	p.Margin = rm.Remaining
	p.LastUpdatedPremiumFraction = latest
	return p, nil
}

// allPositions 遍历保险基金登记的 vAMM
func allPositions(ctx chain.Context, cfg Config, trader string) ([]Position, error) {
	out := []Position{}
	if cfg.InsuranceFund == "" {
		return out, nil
	}
	vamms, err := chain.Query[[]string](ctx.Querier, cfg.InsuranceFund, insurance.GetAllVamm{})
	if err != nil {
		return nil, err
	}
	for _, v := range vamms {
		pos, found, err := loadPosition(ctx.Store, v, trader)
		if err != nil {
			return nil, err
		}
		if found && !pos.Size.IsZero() {
			out = append(out, pos)
		}
	}
	return out, nil
}

// positionsByVamm 按开仓均价升序，NextKey 非空时还有下一页
func positionsByVamm(ctx chain.Context, q PositionsByVamm) (PositionsResponse, error) {
	limit := clampLimit(q.Limit)
	sub := []byte(q.Vamm + "/")
	if q.Side != nil {
		sub = tickPrefix(q.Vamm, *q.Side)
	}
	start, err := decodeCursor(q.StartAfter)
	if err != nil {
		return PositionsResponse{}, err
	}

	res := PositionsResponse{Positions: []Position{}}
	var (
		last    []byte
		loadErr error
	)
	err = tickIndex.Range(ctx.Store, sub, start, limit, false, func(k []byte, trader string) bool {
		pos, found, err := loadPosition(ctx.Store, q.Vamm, trader)
		if err != nil {
			loadErr = err
			return false
		}
		if found {
			res.Positions = append(res.Positions, pos)
		}
		last = k[len(sub):]
		return true
	})
	if err != nil {
		return PositionsResponse{}, err
	}
	if loadErr != nil {
		return PositionsResponse{}, loadErr
	}
	if len(res.Positions) == limit && last != nil {
		res.NextKey = encodeCursor(last)
	}
	return res, nil
}
