// 文件: pkg/fixed/format.go
// 人类可读格式 (日志 / HTTP 接口)，不参与账务

package fixed

import (
	"github.com/shopspring/decimal"
)

// Decimal 按 decimals 位小数转成 decimal.Decimal
// 例: Uint(1_500_000_000), 9 => 1.5
func (a Uint) Decimal(decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(a.v.ToBig(), -decimals)
}

// Decimal 有符号版本
func (a Integer) Decimal(decimals int32) decimal.Decimal {
	d := a.Value.Decimal(decimals)
	if a.IsNegative() {
		return d.Neg()
	}
	return d
}

// Format 格式化成字符串，例如 "37.5"
func Format(a Uint, decimals int32) string {
	return a.Decimal(decimals).String()
}

// DecimalsOf 由精度 D (10^n) 反推小数位数 n，D 不是 10 的幂时返回 false
func DecimalsOf(d Uint) (int32, bool) {
	s := d.String()
	if len(s) == 0 || s[0] != '1' {
		return 0, false
	}
	for _, c := range s[1:] {
		if c != '0' {
			return 0, false
		}
	}
	return int32(len(s) - 1), true
}

// FromDecimal 把人类可读的小数按 decimals 位精度转成 Uint (截断)
func FromDecimal(d decimal.Decimal, decimals int32) (Uint, error) {
	if d.IsNegative() {
		return Uint{}, ErrUnderflow
	}
	return ParseUint(d.Shift(decimals).Truncate(0).String())
}
