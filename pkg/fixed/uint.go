// 文件: pkg/fixed/uint.go
// 无符号定点数
//
// 【设计】
// - 底层使用 holiman/uint256 (256 位)，所有运算都做溢出检查
// - 值类型 (uint256.Int 是 [4]uint64)，可以直接拷贝、比较
// - 精度 D 由调用方传入 (通常 10^9)，本包不假设固定精度

package fixed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrOverflow       = errors.New("overflow")
	ErrUnderflow      = errors.New("underflow")
	ErrDivisionByZero = errors.New("division by zero")
	ErrInvalidNumber  = errors.New("invalid number")
)

// Uint 无符号定点数
type Uint struct {
	v uint256.Int
}

// Zero 零值
func Zero() Uint { return Uint{} }

// NewUint 从 uint64 构造
func NewUint(x uint64) Uint {
	var u Uint
	u.v.SetUint64(x)
	return u
}

// Pow10 返回 10^n
func Pow10(n uint) Uint {
	var u Uint
	u.v.Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
	return u
}

// ParseUint 解析十进制字符串 (不允许前导 +/-)
func ParseUint(s string) (Uint, error) {
	var u Uint
	if s == "" {
		return u, fmt.Errorf("%w: empty string", ErrInvalidNumber)
	}
	if err := u.v.SetFromDecimal(s); err != nil {
		return u, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return u, nil
}

// MustParseUint 解析失败直接 panic，仅用于常量和测试
func MustParseUint(s string) Uint {
	u, err := ParseUint(s)
	if err != nil {
		panic(err)
	}
	return u
}

// =============================================================================
// 基础查询
// =============================================================================

func (a Uint) IsZero() bool { return a.v.IsZero() }

// Cmp 比较: a<b 返回 -1, a==b 返回 0, a>b 返回 1
func (a Uint) Cmp(b Uint) int { return a.v.Cmp(&b.v) }

func (a Uint) Eq(b Uint) bool  { return a.v.Eq(&b.v) }
func (a Uint) Lt(b Uint) bool  { return a.v.Lt(&b.v) }
func (a Uint) Gt(b Uint) bool  { return a.v.Gt(&b.v) }
func (a Uint) Lte(b Uint) bool { return !a.v.Gt(&b.v) }
func (a Uint) Gte(b Uint) bool { return !a.v.Lt(&b.v) }

// Uint64 转 uint64，超出范围返回 ErrOverflow
func (a Uint) Uint64() (uint64, error) {
	if !a.v.IsUint64() {
		return 0, ErrOverflow
	}
	return a.v.Uint64(), nil
}

// String 十进制表示，无前导零
func (a Uint) String() string { return a.v.Dec() }

// Bytes32 大端 32 字节，用于存储 key (保证字典序 == 数值序)
func (a Uint) Bytes32() [32]byte { return a.v.Bytes32() }

// Float64 仅用于指标和日志，不参与账务计算
func (a Uint) Float64() float64 {
	f, _ := strconv.ParseFloat(a.v.Dec(), 64)
	return f
}

// =============================================================================
// 检查型运算
// =============================================================================

func (a Uint) Add(b Uint) (Uint, error) {
	var z Uint
	if _, overflow := z.v.AddOverflow(&a.v, &b.v); overflow {
		return Uint{}, fmt.Errorf("%w: %s + %s", ErrOverflow, a, b)
	}
	return z, nil
}

func (a Uint) Sub(b Uint) (Uint, error) {
	var z Uint
	if _, underflow := z.v.SubOverflow(&a.v, &b.v); underflow {
		return Uint{}, fmt.Errorf("%w: %s - %s", ErrUnderflow, a, b)
	}
	return z, nil
}

// SaturatingSub a-b，不足时返回 0
func (a Uint) SaturatingSub(b Uint) Uint {
	if a.Lte(b) {
		return Uint{}
	}
	var z Uint
	z.v.Sub(&a.v, &b.v)
	return z
}

func (a Uint) Mul(b Uint) (Uint, error) {
	var z Uint
	if _, overflow := z.v.MulOverflow(&a.v, &b.v); overflow {
		return Uint{}, fmt.Errorf("%w: %s * %s", ErrOverflow, a, b)
	}
	return z, nil
}

func (a Uint) Div(b Uint) (Uint, error) {
	if b.IsZero() {
		return Uint{}, ErrDivisionByZero
	}
	var z Uint
	z.v.Div(&a.v, &b.v)
	return z, nil
}

func (a Uint) Mod(b Uint) (Uint, error) {
	if b.IsZero() {
		return Uint{}, ErrDivisionByZero
	}
	var z Uint
	z.v.Mod(&a.v, &b.v)
	return z, nil
}

// MulDiv 计算 a*b/c，中间结果 512 位，不会因乘法溢出
func (a Uint) MulDiv(b, c Uint) (Uint, error) {
	if c.IsZero() {
		return Uint{}, ErrDivisionByZero
	}
	var z Uint
	if _, overflow := z.v.MulDivOverflow(&a.v, &b.v, &c.v); overflow {
		return Uint{}, fmt.Errorf("%w: %s * %s / %s", ErrOverflow, a, b, c)
	}
	return z, nil
}

// =============================================================================
// 精度运算
// =============================================================================

// MulDec 两个 D 精度的数相乘: a*b/d
func MulDec(a, b, d Uint) (Uint, error) { return a.MulDiv(b, d) }

// DivDec 两个 D 精度的数相除: a*d/b
func DivDec(a, b, d Uint) (Uint, error) { return a.MulDiv(d, b) }

// Modulo D 精度下的取模: a*d - b*((a*d)/b)
func Modulo(a, b, d Uint) (Uint, error) {
	if b.IsZero() {
		return Uint{}, ErrDivisionByZero
	}
	ad, err := a.Mul(d)
	if err != nil {
		return Uint{}, err
	}
	q, _ := ad.Div(b)
	bq, err := b.Mul(q)
	if err != nil {
		return Uint{}, err
	}
	return ad.Sub(bq)
}

func Min(a, b Uint) Uint {
	if a.Lt(b) {
		return a
	}
	return b
}

func Max(a, b Uint) Uint {
	if a.Gt(b) {
		return a
	}
	return b
}

// =============================================================================
// 序列化: JSON 使用十进制字符串
// =============================================================================

func (a Uint) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Uint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidNumber, string(data))
	}
	u, err := ParseUint(s)
	if err != nil {
		return err
	}
	*a = u
	return nil
}
