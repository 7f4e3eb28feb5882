// 文件: pkg/vamm/curve.go
// 恒定乘积曲线 x*y=k 的报价
//
// 【舍入规则】永远向不利于交易者的方向取整，保证 k' >= k:
//   - InputPrice  (按报价资产成交):  AddToAmm 得到的 Δb 向下取整；RemoveFromAmm 付出的 Δb 向上取整
//   - OutputPrice (按基础资产成交):  基础资产加入池子换出的 Δq 向下取整；从池子取出基础资产付出的 Δq 向上取整
//
// 【面试】为什么用完整的 k=Q·B 而不是先除 D?
// 两个 D 精度的数相乘再除，只在最后一步 k/Q' 取整一次，误差最多 1 ulp

package vamm

import (
	"encoding/json"
	"errors"
	"fmt"

	"vperp.com/pkg/fixed"
)

var (
	ErrInsufficientReserve = errors.New("amount exceeds reserve")
	ErrInvalidDirection    = errors.New("invalid direction")
)

// Direction 资产进出池子的方向
type Direction int

const (
	AddToAmm Direction = iota
	RemoveFromAmm
)

func (d Direction) String() string {
	switch d {
	case AddToAmm:
		return "add_to_amm"
	case RemoveFromAmm:
		return "remove_from_amm"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// Opposite 反方向
func (d Direction) Opposite() Direction {
	if d == AddToAmm {
		return RemoveFromAmm
	}
	return AddToAmm
}

func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Direction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "add_to_amm":
		*d = AddToAmm
	case "remove_from_amm":
		*d = RemoveFromAmm
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
	return nil
}

// InputPrice 投入 / 取出 quote 个报价资产，对应的基础资产数量
func InputPrice(dir Direction, quote, quoteReserve, baseReserve fixed.Uint) (fixed.Uint, error) {
	if quote.IsZero() {
		return fixed.Zero(), nil
	}
	k, err := quoteReserve.Mul(baseReserve)
	if err != nil {
		return fixed.Zero(), err
	}

	var after fixed.Uint
	switch dir {
	case AddToAmm:
		if after, err = quoteReserve.Add(quote); err != nil {
			return fixed.Zero(), err
		}
	case RemoveFromAmm:
		if quote.Gte(quoteReserve) {
			return fixed.Zero(), fmt.Errorf("%w: quote %s >= reserve %s", ErrInsufficientReserve, quote, quoteReserve)
		}
		after, _ = quoteReserve.Sub(quote)
	default:
		return fixed.Zero(), ErrInvalidDirection
	}

	return counterDelta(dir, k, after, baseReserve)
}

// OutputPrice 投入 / 取出 base 个基础资产，对应的报价资产数量
//
// dir 是基础资产的方向
func OutputPrice(dir Direction, base, quoteReserve, baseReserve fixed.Uint) (fixed.Uint, error) {
	if base.IsZero() {
		return fixed.Zero(), nil
	}
	k, err := quoteReserve.Mul(baseReserve)
	if err != nil {
		return fixed.Zero(), err
	}

	var after fixed.Uint
	switch dir {
	case AddToAmm:
		if after, err = baseReserve.Add(base); err != nil {
			return fixed.Zero(), err
		}
	case RemoveFromAmm:
		if base.Gte(baseReserve) {
			return fixed.Zero(), fmt.Errorf("%w: base %s >= reserve %s", ErrInsufficientReserve, base, baseReserve)
		}
		after, _ = baseReserve.Sub(base)
	default:
		return fixed.Zero(), ErrInvalidDirection
	}

	return counterDelta(dir, k, after, quoteReserve)
}

// counterDelta 一侧储备变为 after 后，另一侧 (原值 other) 的变化量
//
// dir=AddToAmm: 另一侧减少，变化量向下取整
// dir=RemoveFromAmm: 另一侧增加，变化量向上取整
func counterDelta(dir Direction, k, after, other fixed.Uint) (fixed.Uint, error) {
	otherAfter, err := k.Div(after)
	if err != nil {
		return fixed.Zero(), err
	}
	rem, _ := k.Mod(after)

	if dir == AddToAmm {
		delta, err := other.Sub(otherAfter)
		if err != nil {
			return fixed.Zero(), err
		}
		if !rem.IsZero() && !delta.IsZero() {
			delta, _ = delta.Sub(fixed.NewUint(1))
		}
		return delta, nil
	}

	delta, err := otherAfter.Sub(other)
	if err != nil {
		return fixed.Zero(), err
	}
	if !rem.IsZero() {
		return delta.Add(fixed.NewUint(1))
	}
	return delta, nil
}
