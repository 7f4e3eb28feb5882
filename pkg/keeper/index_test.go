// 文件: pkg/keeper/index_test.go

package keeper

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vperp.com/pkg/engine"
	"vperp.com/pkg/fixed"
)

var d9 = fixed.Pow10(9)

func ratio(s string) fixed.Integer { return fixed.MustParseInteger(s) }

func TestAssessRisk(t *testing.T) {
	mmr := fixed.MustParseUint("62500000") // 6.25%
	pos := engine.Position{Vamm: "v", Trader: "t"}

	tests := []struct {
		name  string
		ratio string
		want  RiskLevel
	}{
		{"healthy", "200000000", RiskLevelSafe},
		{"warning", "85000000", RiskLevelWarning},
		{"danger", "75000000", RiskLevelDanger},
		{"critical", "66000000", RiskLevelCritical},
		{"exactly mmr is not liquidatable", "62500000", RiskLevelCritical},
		{"below mmr", "62499999", RiskLevelLiquidate},
		{"underwater", "-1000", RiskLevelLiquidate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := AssessRisk(pos, ratio(tt.ratio), mmr, 100)
			assert.Equal(t, tt.want, r.Level, "risk=%v", r.RiskRatio)
			assert.Equal(t, "v/t", r.Key())
		})
	}

	r := AssessRisk(pos, fixed.Integer{}, mmr, 0)
	assert.True(t, math.IsInf(r.RiskRatio, 1))
}

func TestRiskIndexReplaceAndUpdate(t *testing.T) {
	idx := NewRiskIndex()
	idx.Replace([]PositionRisk{
		{Vamm: "v", Trader: "a", Level: RiskLevelWarning},
		{Vamm: "v", Trader: "b", Level: RiskLevelCritical},
		{Vamm: "v", Trader: "c", Level: RiskLevelSafe},
		{Vamm: "v", Trader: "d", Level: RiskLevelLiquidate},
	})
	assert.Equal(t, 2, idx.TotalCount())
	assert.Len(t, idx.GetByLevel(RiskLevelCritical), 1)
	assert.Nil(t, idx.GetByLevel(RiskLevelSafe))

	// 升级: 从 Warning 挪到 Danger
	idx.Update(PositionRisk{Vamm: "v", Trader: "a", Level: RiskLevelDanger})
	assert.Empty(t, idx.GetByLevel(RiskLevelWarning))
	got, ok := idx.Get("v/a")
	require.True(t, ok)
	assert.Equal(t, RiskLevelDanger, got.Level)

	// 再次全量扫描时不在结果里的被移除
	idx.Replace([]PositionRisk{{Vamm: "v", Trader: "a", Level: RiskLevelDanger}})
	assert.Equal(t, 1, idx.TotalCount())
	_, ok = idx.Get("v/b")
	assert.False(t, ok)
}

func TestCowMapConcurrentReaders(t *testing.T) {
	m := NewCowMap()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = m.GetAll()
				_, _ = m.Get("v/a")
			}
		}()
	}
	for j := 0; j < 100; j++ {
		m.BatchUpdate([]PositionRisk{{Vamm: "v", Trader: "a"}}, nil)
	}
	wg.Wait()
	assert.Equal(t, 1, m.Len())
}

// =============================================================================
// 触发价索引
// =============================================================================

func price(s string) fixed.Uint {
	u, err := fixed.ParseUint(s)
	if err != nil {
		panic(err)
	}
	v, _ := u.Mul(d9)
	return v
}

func sampleTriggers() []Trigger {
	return []Trigger{
		{Vamm: "v", Trader: "long", Kind: TakeProfit, Side: engine.Buy, Price: price("1100")},
		{Vamm: "v", Trader: "long", Kind: StopLoss, Side: engine.Buy, Price: price("900")},
		{Vamm: "v", Trader: "short", Kind: TakeProfit, Side: engine.Sell, Price: price("900")},
		{Vamm: "v", Trader: "short", Kind: StopLoss, Side: engine.Sell, Price: price("1100")},
	}
}

func TestTriggerFires(t *testing.T) {
	tr := sampleTriggers()
	assert.True(t, tr[0].Above())
	assert.False(t, tr[1].Above())
	assert.False(t, tr[2].Above())
	assert.True(t, tr[3].Above())

	assert.True(t, tr[0].Fires(price("1100")))
	assert.False(t, tr[0].Fires(price("1099")))
	assert.True(t, tr[1].Fires(price("850")))
	assert.True(t, tr[2].Fires(price("900")))
	assert.False(t, tr[3].Fires(price("1000")))
}

func TestTriggersOf(t *testing.T) {
	tp, sl := price("1100"), price("900")
	p := engine.Position{Vamm: "v", Trader: "a", Size: fixed.IntegerFromInt64(-5), TakeProfit: &sl, StopLoss: &tp}
	got := TriggersOf(p)
	require.Len(t, got, 2)
	assert.Equal(t, engine.Sell, got[0].Side)
	assert.Equal(t, TakeProfit, got[0].Kind)

	p.Size = fixed.Integer{}
	assert.Empty(t, TriggersOf(p))
}

// testTriggerIndex 两种实现共用的行为
func testTriggerIndex(t *testing.T, x TriggerIndex) {
	ctx := context.Background()
	all := sampleTriggers()
	require.NoError(t, x.Replace(ctx, "v", "long", all[:2]))
	require.NoError(t, x.Replace(ctx, "v", "short", all[2:]))

	traders := func(list []Trigger) map[string]TriggerKind {
		out := map[string]TriggerKind{}
		for _, tr := range list {
			out[tr.Trader] = tr.Kind
		}
		return out
	}

	due, err := x.Due(ctx, "v", price("1000"))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = x.Due(ctx, "v", price("1150"))
	require.NoError(t, err)
	assert.Equal(t, map[string]TriggerKind{"long": TakeProfit, "short": StopLoss}, traders(due))
	for _, tr := range due {
		assert.Equal(t, map[string]engine.Side{"long": engine.Buy, "short": engine.Sell}[tr.Trader], tr.Side)
	}

	due, err = x.Due(ctx, "v", price("900"))
	require.NoError(t, err)
	assert.Equal(t, map[string]TriggerKind{"long": StopLoss, "short": TakeProfit}, traders(due))

	// 覆盖: long 只剩止损
	require.NoError(t, x.Replace(ctx, "v", "long", all[1:2]))
	due, err = x.Due(ctx, "v", price("1150"))
	require.NoError(t, err)
	assert.Equal(t, map[string]TriggerKind{"short": StopLoss}, traders(due))

	// 删除
	require.NoError(t, x.Replace(ctx, "v", "short", nil))
	due, err = x.Due(ctx, "v", price("1150"))
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, x.Clear(ctx, "v"))
	due, err = x.Due(ctx, "v", price("1"))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = x.Due(ctx, "unknown", price("1"))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestBTreeIndex(t *testing.T) {
	x := NewBTreeIndex()
	testTriggerIndex(t, x)
	assert.Zero(t, x.Len())
}
