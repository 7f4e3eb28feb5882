// 文件: pkg/vamm/curve_test.go

package vamm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vperp.com/pkg/fixed"
)

var d = fixed.Pow10(9)

func units(x uint64) fixed.Uint {
	v, _ := fixed.NewUint(x).Mul(d)
	return v
}

func TestInputPriceExact(t *testing.T) {
	// 1000/100 池子做多 600: Q'=1600, B'=62.5, 拿到 37.5
	base, err := InputPrice(AddToAmm, units(600), units(1000), units(100))
	require.NoError(t, err)
	assert.Equal(t, "37500000000", base.String())
}

func TestInputPriceRoundsAgainstTrader(t *testing.T) {
	// 第二笔做多: k/Q' 除不尽，拿到的 base 向下取整
	base, err := InputPrice(AddToAmm, units(600), units(1600), fixed.MustParseUint("62500000000"))
	require.NoError(t, err)
	assert.Equal(t, "17045454545", base.String())

	// 做空: 卖出的 base 向上取整
	base, err = InputPrice(RemoveFromAmm, units(200), units(1000), units(100))
	require.NoError(t, err)
	assert.Equal(t, "25000000000", base.String())

	base, err = InputPrice(RemoveFromAmm, units(200), units(800), units(125))
	require.NoError(t, err)
	assert.Equal(t, "41666666667", base.String())
}

func TestOutputPriceRoundsAgainstTrader(t *testing.T) {
	q, b := units(1000), units(100)

	// 卖出 base 拿到的 quote 向下取整
	out, err := OutputPrice(AddToAmm, units(3), q, b)
	require.NoError(t, err)
	// k/(103) = 970.873786407...
	assert.Equal(t, "29126213592", out.String())

	// 买入 base 付出的 quote 向上取整
	in, err := OutputPrice(RemoveFromAmm, units(3), q, b)
	require.NoError(t, err)
	// k/(97) = 1030.927835051...
	assert.Equal(t, "30927835052", in.String())
}

func TestCurveKeepsK(t *testing.T) {
	q, b := units(1000), units(100)
	k0, _ := q.Mul(b)

	cases := []struct {
		dir    Direction
		amount fixed.Uint
	}{
		{AddToAmm, fixed.MustParseUint("123456789012")},
		{RemoveFromAmm, fixed.MustParseUint("333333333333")},
		{AddToAmm, fixed.NewUint(7)},
		{RemoveFromAmm, fixed.NewUint(7)},
	}
	for _, tc := range cases {
		base, err := InputPrice(tc.dir, tc.amount, q, b)
		require.NoError(t, err)
		st, err := applySwap(State{QuoteAssetReserve: q, BaseAssetReserve: b}, tc.dir, tc.amount, base)
		require.NoError(t, err)
		k1, _ := st.QuoteAssetReserve.Mul(st.BaseAssetReserve)
		assert.True(t, k1.Gte(k0), "k shrank for %s %s", tc.dir, tc.amount)
	}
}

func TestCurveErrors(t *testing.T) {
	_, err := InputPrice(RemoveFromAmm, units(1000), units(1000), units(100))
	assert.ErrorIs(t, err, ErrInsufficientReserve)

	_, err = OutputPrice(RemoveFromAmm, units(100), units(1000), units(100))
	assert.ErrorIs(t, err, ErrInsufficientReserve)

	_, err = InputPrice(Direction(9), units(1), units(1000), units(100))
	assert.ErrorIs(t, err, ErrInvalidDirection)

	zero, err := InputPrice(AddToAmm, fixed.Zero(), units(1000), units(100))
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}

func TestDirectionJSON(t *testing.T) {
	var dir Direction
	require.NoError(t, dir.UnmarshalJSON([]byte(`"remove_from_amm"`)))
	assert.Equal(t, RemoveFromAmm, dir)
	assert.Equal(t, AddToAmm, dir.Opposite())
	assert.Error(t, dir.UnmarshalJSON([]byte(`"sideways"`)))
}

func TestNextFundingTime(t *testing.T) {
	// 缓冲期内: 顺延一个周期
	assert.Equal(t, uint64(7200), nextFundingTime(3600, 3600+100, 3600))
	// 错过缓冲期: 对齐到下一个周期点
	assert.Equal(t, uint64(3600*4), nextFundingTime(3600, 3600*3+1900, 3600))
	// 周期小于缓冲期也不会落到过去
	assert.Equal(t, uint64(200), nextFundingTime(100, 160, 50))
}
