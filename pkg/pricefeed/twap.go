// 文件: pkg/pricefeed/twap.go
// 时间加权平均价 (TWAP)
//
// 【算法】从最新观测点往回走:
//
//	now ─┬─ latest.ts ─┬─ prev.ts ─┬─ ... ─ base = now - interval
//	     │  latest.p   │  prev.p   │
//
// 每个观测点的价格一直持续到下一个观测点 (最新点持续到 now)，
// 跨过 base 的那一段只算 base 之后的部分。
// 观测点不够覆盖整个区间时，按实际覆盖的时长做分母。
//
// 预言机轮次和 vAMM 储备快照共用这一个实现

package pricefeed

import (
	"vperp.com/pkg/fixed"
)

// Observation 某时刻的价格
type Observation struct {
	Price     fixed.Uint
	Timestamp uint64
}

// Walker 依次返回更早的观测点，ok=false 表示没有更多
type Walker func() (obs Observation, ok bool, err error)

// TWAP 计算 [now-interval, now] 的时间加权平均价
func TWAP(now, interval uint64, latest Observation, prev Walker) (fixed.Uint, error) {
	if interval == 0 || now <= latest.Timestamp {
		return latest.Price, nil
	}
	var base uint64
	if now > interval {
		base = now - interval
	}
	if latest.Timestamp <= base {
		return latest.Price, nil
	}

	weighted, err := latest.Price.Mul(fixed.NewUint(now - latest.Timestamp))
	if err != nil {
		return fixed.Zero(), err
	}
	periodEnd := latest.Timestamp
	earliest := latest

	for {
		obs, ok, err := prev()
		if err != nil {
			return fixed.Zero(), err
		}
		if !ok {
			break
		}
		if obs.Timestamp <= base {
			part, err := obs.Price.Mul(fixed.NewUint(periodEnd - base))
			if err != nil {
				return fixed.Zero(), err
			}
			if weighted, err = weighted.Add(part); err != nil {
				return fixed.Zero(), err
			}
			return weighted.Div(fixed.NewUint(interval))
		}
		part, err := obs.Price.Mul(fixed.NewUint(periodEnd - obs.Timestamp))
		if err != nil {
			return fixed.Zero(), err
		}
		if weighted, err = weighted.Add(part); err != nil {
			return fixed.Zero(), err
		}
		periodEnd = obs.Timestamp
		earliest = obs
	}

	// 历史不够长
	span := now - earliest.Timestamp
	if span == 0 {
		return earliest.Price, nil
	}
	return weighted.Div(fixed.NewUint(span))
}
