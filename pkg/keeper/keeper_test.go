// 文件: pkg/keeper/keeper_test.go
// 在 devnet 上跑真实交易驱动三个 keeper

package keeper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/config"
	"vperp.com/pkg/devnet"
	"vperp.com/pkg/engine"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/storage"
	"vperp.com/pkg/vamm"
)

const market = "vamm-eth"

func setupDevnet(t *testing.T) *devnet.Devnet {
	cfg := config.Default()
	cfg.Chain.StartTime = 1_700_000_000
	d, err := devnet.Deploy(devnet.NewApp(storage.NewMemStore(), cfg.Chain, zap.NewNop()), cfg.Genesis)
	require.NoError(t, err)
	return d
}

func units(t *testing.T, d *devnet.Devnet, s string) fixed.Uint {
	u, err := d.Units(decimal.RequireFromString(s))
	require.NoError(t, err)
	return u
}

func open(t *testing.T, d *devnet.Devnet, trader string, side engine.Side, margin, leverage string, tp *fixed.Uint) {
	_, err := d.App.Execute(trader, d.Engine, engine.OpenPosition{
		Vamm:             market,
		Side:             side,
		QuoteAssetAmount: units(t, d, margin),
		Leverage:         units(t, d, leverage),
		TakeProfit:       tp,
	})
	require.NoError(t, err)
}

func TestFundingKeeperSettlesWhenDue(t *testing.T) {
	ctx := context.Background()
	d := setupDevnet(t)
	k := NewFundingKeeper(d.App, d.Engine, d.Operator, time.Second, zap.NewNop())

	n, err := k.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	before, err := chain.QueryAs[vamm.State](d.App, market, vamm.StateQuery{})
	require.NoError(t, err)

	d.App.NextBlock(3600)
	require.NoError(t, d.SetOraclePrice("ETH", units(t, d, "1000")))
	n, err = k.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after, err := chain.QueryAs[vamm.State](d.App, market, vamm.StateQuery{})
	require.NoError(t, err)
	assert.Greater(t, after.NextFundingTime, before.NextFundingTime)

	// 同一周期不重复结算
	n, err = k.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFundingKeeperSkipsWithoutOperatorRights(t *testing.T) {
	d := setupDevnet(t)
	k := NewFundingKeeper(d.App, d.Engine, "mallory", time.Second, nil)
	d.App.NextBlock(3600)
	require.NoError(t, d.SetOraclePrice("ETH", units(t, d, "1000")))

	n, err := k.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLiquidationKeeperScan(t *testing.T) {
	ctx := context.Background()
	d := setupDevnet(t)
	k := NewLiquidationKeeper(d.App, LiquidationConfig{Engine: d.Engine, Liquidator: d.Keeper, Workers: 2}, zap.NewNop())

	// 名义 1000，保证金 125
	open(t, d, "alice", engine.Buy, "125", "8", nil)
	d.App.NextBlock(5)

	n, err := k.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, k.Index().TotalCount())

	// bob 大额做空把价格压低约 7%
	open(t, d, "bob", engine.Sell, "3900", "9", nil)
	d.App.NextBlock(5)

	before, err := chain.QueryAs[engine.Position](d.App, d.Engine, engine.PositionQuery{Vamm: market, Trader: "alice"})
	require.NoError(t, err)

	n, err = k.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	stats := k.Stats()
	assert.Equal(t, 1, stats.Submitted)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, 3, stats.Scanned)

	// 保证金率还高于清算费率，只部分强平
	after, err := chain.QueryAs[engine.Position](d.App, d.Engine, engine.PositionQuery{Vamm: market, Trader: "alice"})
	require.NoError(t, err)
	assert.True(t, after.Size.Abs().Lt(before.Size.Abs()))

	fee, err := d.Balance(d.Keeper)
	require.NoError(t, err)
	assert.False(t, fee.IsZero())
}

func TestLiquidationKeeperCheckCriticalDropsClosed(t *testing.T) {
	ctx := context.Background()
	d := setupDevnet(t)
	k := NewLiquidationKeeper(d.App, LiquidationConfig{Engine: d.Engine, Liquidator: d.Keeper}, nil)

	k.Index().Update(PositionRisk{Vamm: market, Trader: "ghost", Level: RiskLevelCritical})
	require.Equal(t, 1, k.Index().TotalCount())

	n, err := k.CheckCritical(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, k.Index().TotalCount())
}

// Scan 和 CheckCritical 在 Run 里并发执行，统计计数要经得住 -race
func TestLiquidationKeeperStatsConcurrent(t *testing.T) {
	ctx := context.Background()
	d := setupDevnet(t)
	k := NewLiquidationKeeper(d.App, LiquidationConfig{Engine: d.Engine, Liquidator: d.Keeper, Workers: 4}, zap.NewNop())

	// 没有仓位，每个强平都会失败
	tasks := make([]LiquidationTask, 8)
	for i := range tasks {
		tasks[i] = LiquidationTask{Vamm: market, Trader: fmt.Sprintf("ghost-%d", i)}
	}

	const rounds = 4
	g := new(errgroup.Group)
	for i := 0; i < rounds; i++ {
		g.Go(func() error {
			if n := k.execute(ctx, tasks); n != 0 {
				return fmt.Errorf("unexpected submissions: %d", n)
			}
			return nil
		})
		g.Go(func() error {
			_ = k.Stats()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	stats := k.Stats()
	assert.Equal(t, rounds*len(tasks), stats.Failed)
	assert.Zero(t, stats.Submitted)
}

func TestTriggerWatcherFiresTakeProfit(t *testing.T) {
	ctx := context.Background()
	d := setupDevnet(t)
	w := NewTriggerWatcher(d.App, d.Engine, d.Keeper, NewBTreeIndex(), time.Second, zap.NewNop())
	d.App.AddSink("tpsl", w)

	tp := units(t, d, "1010")
	open(t, d, "alice", engine.Buy, "100", "5", &tp)
	d.App.NextBlock(5)

	n, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// bob 买入把现价推到 1010 以上
	open(t, d, "bob", engine.Buy, "600", "9", nil)
	d.App.NextBlock(5)
	spot, err := d.SpotPrice(market)
	require.NoError(t, err)
	require.True(t, spot.Gte(tp))

	n, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = chain.QueryAs[engine.Position](d.App, d.Engine, engine.PositionQuery{Vamm: market, Trader: "alice"})
	require.ErrorIs(t, err, engine.ErrNoPosition)

	// 平仓事件回流后索引清空
	n, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	due, err := w.index.Due(ctx, market, spot)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestKeepersStopWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := setupDevnet(t)
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return NewFundingKeeper(d.App, d.Engine, d.Operator, 10*time.Millisecond, nil).Run(ctx)
	})
	g.Go(func() error {
		return NewLiquidationKeeper(d.App, LiquidationConfig{
			Engine: d.Engine, Liquidator: d.Keeper,
			ScanInterval: 10 * time.Millisecond, CriticalInterval: 5 * time.Millisecond,
		}, nil).Run(ctx)
	})
	g.Go(func() error {
		return NewTriggerWatcher(d.App, d.Engine, d.Keeper, NewBTreeIndex(), 10*time.Millisecond, nil).Run(ctx)
	})

	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, g.Wait())
}
