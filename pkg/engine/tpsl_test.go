// 文件: pkg/engine/tpsl_test.go

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
)

func TestValidateTpSl(t *testing.T) {
	spot := units(10)
	cases := []struct {
		name   string
		side   Side
		tp, sl *fixed.Uint
		ok     bool
	}{
		{"long ok", Buy, ptr(units(11)), ptr(units(9)), true},
		{"long tp below spot", Buy, ptr(units(9)), nil, false},
		{"long sl above spot", Buy, nil, ptr(units(10)), false},
		{"short ok", Sell, ptr(units(9)), ptr(units(11)), true},
		{"short tp above spot", Sell, ptr(units(11)), nil, false},
		{"zero means clear", Sell, ptr(fixed.Zero()), ptr(fixed.Zero()), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateTpSl(tc.side, spot, tc.tp, tc.sl)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidTpSl)
			}
		})
	}
}

func TestTpSlTriggered(t *testing.T) {
	long := Position{Size: fixed.IntegerFromInt64(1), TakeProfit: ptr(units(12)), StopLoss: ptr(units(8))}
	short := Position{Size: fixed.IntegerFromInt64(-1), TakeProfit: ptr(units(8)), StopLoss: ptr(units(12))}

	_, _, ok := tpSlTriggered(long, units(10))
	assert.False(t, ok)
	price, kind, ok := tpSlTriggered(long, units(12))
	assert.True(t, ok)
	assert.Equal(t, "take_profit", kind)
	assert.Equal(t, units(12), price)
	_, kind, ok = tpSlTriggered(long, units(7))
	assert.True(t, ok)
	assert.Equal(t, "stop_loss", kind)

	_, kind, ok = tpSlTriggered(short, units(7))
	assert.True(t, ok)
	assert.Equal(t, "take_profit", kind)
	_, kind, ok = tpSlTriggered(short, units(13))
	assert.True(t, ok)
	assert.Equal(t, "stop_loss", kind)
}

func TestTriggerTakeProfit(t *testing.T) {
	app := setup(t)

	_, err := app.Execute("alice", "engine", OpenPosition{
		Vamm: "vamm", Side: Buy, QuoteAssetAmount: units(1), Leverage: units(2),
		TakeProfit: ptr(units(9)),
	})
	require.ErrorIs(t, err, ErrInvalidTpSl)

	_, err = app.Execute("alice", "engine", OpenPosition{
		Vamm: "vamm", Side: Buy, QuoteAssetAmount: units(1), Leverage: units(2),
		TakeProfit: ptr(fixed.NewUint(10_500_000_000)),
		StopLoss:   ptr(units(9)),
	})
	require.NoError(t, err)
	pos := position(t, app, "alice")
	require.NotNil(t, pos.TakeProfit)
	assert.Equal(t, "10500000000", pos.TakeProfit.String())

	_, err = app.Execute("keeper", "engine", TriggerTpSl{Vamm: "vamm", Trader: "alice"})
	require.ErrorIs(t, err, ErrTpSlNotTriggered)

	// bob 拉高价格到 12.14
	mustOpen(t, app, "bob", Buy, 50, 2)
	_, err = app.Execute("keeper", "engine", TriggerTpSl{Vamm: "vamm", Trader: "alice"})
	require.ErrorIs(t, err, ErrOverSpreadLimit)

	setOracle(t, app, units(12))
	res, err := app.Execute("keeper", "engine", TriggerTpSl{Vamm: "vamm", Trader: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "close_position", engineAttr(t, res, "action"))
	assert.Equal(t, "2418640032", engineAttr(t, res, "exchanged_quote"))

	_, err = chain.QueryAs[Position](app, "engine", PositionQuery{Vamm: "vamm", Trader: "alice"})
	require.ErrorIs(t, err, ErrNoPosition)
	// 保证金 1 + 盈利 0.418640032
	assert.Equal(t, "10000418640032", usdc(t, app, "alice"))
}

func TestUpdateTpSl(t *testing.T) {
	app := setup(t)
	mustOpen(t, app, "alice", Sell, 10, 2)

	_, err := app.Execute("alice", "engine", UpdateTpSl{Vamm: "vamm", TakeProfit: ptr(units(20))})
	require.ErrorIs(t, err, ErrInvalidTpSl)

	_, err = app.Execute("alice", "engine", UpdateTpSl{Vamm: "vamm", TakeProfit: ptr(units(5)), StopLoss: ptr(units(20))})
	require.NoError(t, err)
	pos := position(t, app, "alice")
	require.NotNil(t, pos.StopLoss)
	assert.Equal(t, "20000000000", pos.StopLoss.String())

	// nil 不变，0 清除
	_, err = app.Execute("alice", "engine", UpdateTpSl{Vamm: "vamm", TakeProfit: ptr(fixed.Zero())})
	require.NoError(t, err)
	pos = position(t, app, "alice")
	assert.Nil(t, pos.TakeProfit)
	require.NotNil(t, pos.StopLoss)
	assert.Equal(t, "20000000000", pos.StopLoss.String())

	_, err = app.Execute("bob", "engine", UpdateTpSl{Vamm: "vamm", TakeProfit: ptr(units(5))})
	require.ErrorIs(t, err, ErrNoPosition)
}
