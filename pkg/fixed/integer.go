// 文件: pkg/fixed/integer.go
// 有符号定点数 (绝对值 + 符号位)
//
// 【约定】
// - (0, negative) 一律规范化为 (0, false)，所以零只有一种表示
// - String: 负数带前导 "-"，正数和零不带符号

package fixed

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Integer 有符号定点数
type Integer struct {
	Value    Uint
	Negative bool
}

// NewInteger 构造非负数
func NewInteger(v Uint) Integer { return Integer{Value: v} }

// NewNegative 构造负数 (v=0 时为 0)
func NewNegative(v Uint) Integer { return normalize(Integer{Value: v, Negative: true}) }

// NewSigned 根据 negative 标志构造
func NewSigned(v Uint, negative bool) Integer {
	return normalize(Integer{Value: v, Negative: negative})
}

// IntegerFromInt64 方便测试和常量
func IntegerFromInt64(x int64) Integer {
	if x < 0 {
		return NewNegative(NewUint(uint64(-x)))
	}
	return NewInteger(NewUint(uint64(x)))
}

// ParseInteger 解析 "123" / "-123"
func ParseInteger(s string) (Integer, error) {
	neg := strings.HasPrefix(s, "-")
	v, err := ParseUint(strings.TrimPrefix(s, "-"))
	if err != nil {
		return Integer{}, err
	}
	return NewSigned(v, neg), nil
}

func MustParseInteger(s string) Integer {
	i, err := ParseInteger(s)
	if err != nil {
		panic(err)
	}
	return i
}

func normalize(i Integer) Integer {
	if i.Value.IsZero() {
		i.Negative = false
	}
	return i
}

func (a Integer) IsZero() bool     { return a.Value.IsZero() }
func (a Integer) IsNegative() bool { return a.Negative && !a.Value.IsZero() }
func (a Integer) IsPositive() bool { return !a.Negative && !a.Value.IsZero() }

// Abs 绝对值
func (a Integer) Abs() Uint { return a.Value }

// Neg 取反 (零取反仍为零)
func (a Integer) Neg() Integer {
	return normalize(Integer{Value: a.Value, Negative: !a.Negative})
}

// Cmp 全序比较
func (a Integer) Cmp(b Integer) int {
	a, b = normalize(a), normalize(b)
	switch {
	case a.Negative && !b.Negative:
		return -1
	case !a.Negative && b.Negative:
		return 1
	case a.Negative:
		return b.Value.Cmp(a.Value)
	default:
		return a.Value.Cmp(b.Value)
	}
}

func (a Integer) Lt(b Integer) bool  { return a.Cmp(b) < 0 }
func (a Integer) Gt(b Integer) bool  { return a.Cmp(b) > 0 }
func (a Integer) Gte(b Integer) bool { return a.Cmp(b) >= 0 }
func (a Integer) Eq(b Integer) bool  { return a.Cmp(b) == 0 }

// Add 有符号加法
func (a Integer) Add(b Integer) (Integer, error) {
	if a.IsNegative() == b.IsNegative() {
		v, err := a.Value.Add(b.Value)
		if err != nil {
			return Integer{}, err
		}
		return NewSigned(v, a.IsNegative()), nil
	}
	// 异号: 大的绝对值决定符号
	if a.Value.Gte(b.Value) {
		v, _ := a.Value.Sub(b.Value)
		return NewSigned(v, a.IsNegative()), nil
	}
	v, _ := b.Value.Sub(a.Value)
	return NewSigned(v, b.IsNegative()), nil
}

func (a Integer) Sub(b Integer) (Integer, error) { return a.Add(b.Neg()) }

func (a Integer) Mul(b Integer) (Integer, error) {
	v, err := a.Value.Mul(b.Value)
	if err != nil {
		return Integer{}, err
	}
	return NewSigned(v, a.IsNegative() != b.IsNegative()), nil
}

// Div 向零截断
func (a Integer) Div(b Integer) (Integer, error) {
	v, err := a.Value.Div(b.Value)
	if err != nil {
		return Integer{}, err
	}
	return NewSigned(v, a.IsNegative() != b.IsNegative()), nil
}

// MulDiv a*b/c，符号按乘除规则合成，绝对值向零截断
func (a Integer) MulDiv(b, c Integer) (Integer, error) {
	v, err := a.Value.MulDiv(b.Value, c.Value)
	if err != nil {
		return Integer{}, err
	}
	neg := a.IsNegative() != b.IsNegative()
	neg = neg != c.IsNegative()
	return NewSigned(v, neg), nil
}

// AddUint 加一个非负数
func (a Integer) AddUint(b Uint) (Integer, error) { return a.Add(NewInteger(b)) }

// SubUint 减一个非负数
func (a Integer) SubUint(b Uint) (Integer, error) { return a.Add(NewNegative(b)) }

func (a Integer) String() string {
	if a.IsNegative() {
		return "-" + a.Value.String()
	}
	return a.Value.String()
}

func (a Integer) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Integer) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidNumber, string(data))
	}
	i, err := ParseInteger(s)
	if err != nil {
		return err
	}
	*a = i
	return nil
}
