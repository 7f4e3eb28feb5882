package fixed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var d = NewUint(1_000_000_000)

func TestUintCheckedArithmetic(t *testing.T) {
	a := NewUint(7)
	b := NewUint(3)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "10", sum.String())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "4", diff.String())

	_, err = b.Sub(a)
	require.ErrorIs(t, err, ErrUnderflow)

	_, err = a.Div(Zero())
	require.ErrorIs(t, err, ErrDivisionByZero)

	max := MustParseUint("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	_, err = max.Add(NewUint(1))
	require.ErrorIs(t, err, ErrOverflow)
	_, err = max.Mul(NewUint(2))
	require.ErrorIs(t, err, ErrOverflow)

	assert.True(t, b.SaturatingSub(a).IsZero())
}

func TestMulDivKeepsPrecision(t *testing.T) {
	// 37.5 * 16 = 600
	v, err := MulDec(MustParseUint("37500000000"), MustParseUint("16000000000"), d)
	require.NoError(t, err)
	assert.Equal(t, "600000000000", v.String())

	// 600 / 37.5 = 16
	v, err = DivDec(MustParseUint("600000000000"), MustParseUint("37500000000"), d)
	require.NoError(t, err)
	assert.Equal(t, "16000000000", v.String())
}

func TestModulo(t *testing.T) {
	m, err := Modulo(NewUint(10), NewUint(3), d)
	require.NoError(t, err)
	// 10e9 - 3 * 3333333333 = 1
	assert.Equal(t, "1", m.String())

	m, err = Modulo(NewUint(9), NewUint(3), d)
	require.NoError(t, err)
	assert.True(t, m.IsZero())

	_, err = Modulo(NewUint(9), Zero(), d)
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestIntegerSignRules(t *testing.T) {
	five := IntegerFromInt64(5)
	minusSeven := IntegerFromInt64(-7)

	sum, err := five.Add(minusSeven)
	require.NoError(t, err)
	assert.Equal(t, "-2", sum.String())

	diff, err := minusSeven.Sub(minusSeven)
	require.NoError(t, err)
	assert.True(t, diff.IsZero())
	assert.False(t, diff.Negative, "zero must be normalised")
	assert.Equal(t, "0", diff.String())

	prod, err := minusSeven.Mul(minusSeven)
	require.NoError(t, err)
	assert.Equal(t, "49", prod.String())

	quo, err := minusSeven.Div(IntegerFromInt64(2))
	require.NoError(t, err)
	assert.Equal(t, "-3", quo.String())

	assert.True(t, minusSeven.Lt(five))
	assert.True(t, NewNegative(Zero()).Eq(NewInteger(Zero())))
	assert.Equal(t, "7", minusSeven.Neg().String())
	assert.Equal(t, "0", NewNegative(Zero()).Neg().String())
}

func TestIntegerStringRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1", "-1", "278761061950", "-66666666667"} {
		i, err := ParseInteger(s)
		require.NoError(t, err)
		assert.Equal(t, s, i.String())

		raw, err := json.Marshal(i)
		require.NoError(t, err)
		var back Integer
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.True(t, back.Eq(i))
	}

	_, err := ParseInteger("1.5")
	require.ErrorIs(t, err, ErrInvalidNumber)
	_, err = ParseInteger("")
	require.ErrorIs(t, err, ErrInvalidNumber)
}

func TestFormatDecimal(t *testing.T) {
	assert.Equal(t, "37.5", Format(MustParseUint("37500000000"), 9))
	assert.Equal(t, "-0.5", MustParseInteger("-500000000").Decimal(9).String())

	n, ok := DecimalsOf(d)
	require.True(t, ok)
	assert.Equal(t, int32(9), n)
	_, ok = DecimalsOf(NewUint(12))
	assert.False(t, ok)
}
