// 文件: cmd/simulation/scenario.go
// scenario 子命令: 每个场景在一条全新的开发网上执行，打印关键数值
//
// 基准参数: D=1e9, Q=1000, B=100, IMR=MMR=5%, 手续费为 0, 不限波动, 预言机 10

package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/config"
	"vperp.com/pkg/devnet"
	"vperp.com/pkg/engine"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/storage"
)

var ErrUnknownScenario = errors.New("unknown scenario")

type result struct {
	Key   string
	Value string
}

type scenario struct {
	Name  string
	Short string
	Run   func(*scenarioEnv) ([]result, error)
}

var scenarios = []scenario{
	{"open-long", "Buy 60 at 10x", runOpenLong},
	{"two-longs", "Buy 60 at 10x twice", runTwoLongs},
	{"two-shorts", "Sell 40 at 5x twice", runTwoShorts},
	{"reverse-flat", "Buy 60 at 10x then Sell 300 at 2x", runReverseFlat},
	{"liquidation", "Long 150 at 4x pushed underwater by a 500 short, then liquidated", runLiquidation},
	{"funding", "Short 40 at 5x pays funding after one period with oracle above spot", runFunding},
}

func scenarioCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scenario [name]",
		Short: "Replays fixed end-to-end scenarios on a fresh devnet and prints the results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			selected := scenarios
			if len(args) == 1 {
				s, ok := findScenario(args[0])
				if !ok {
					return fmt.Errorf("%w: %s", ErrUnknownScenario, args[0])
				}
				selected = []scenario{s}
			}
			for _, s := range selected {
				res, err := runScenario(s)
				if err != nil {
					return fmt.Errorf("scenario %s: %w", s.Name, err)
				}
				if err := printResults(c.OutOrStdout(), s, res); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func findScenario(name string) (scenario, bool) {
	for _, s := range scenarios {
		if s.Name == name {
			return s, true
		}
	}
	return scenario{}, false
}

func printResults(w io.Writer, s scenario, res []result) error {
	fmt.Fprintf(w, "== %s: %s\n", s.Name, s.Short)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range res {
		fmt.Fprintf(tw, "  %s\t%s\n", r.Key, r.Value)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}

// =============================================================================
// 场景环境
// =============================================================================

type scenarioEnv struct {
	d      *devnet.Devnet
	market string
}

func scenarioConfig() *config.Config {
	cfg := config.Default()
	cfg.Chain.StartTime = 1_700_000_000

	g := &cfg.Genesis
	g.Engine.InitialMarginRatio = decimal.RequireFromString("0.05")
	g.Engine.MaintenanceMarginRatio = decimal.RequireFromString("0.05")
	g.Engine.PartialLiquidationRatio = decimal.Zero
	g.Engine.LiquidationFee = decimal.RequireFromString("0.025")
	g.InsuranceBalance = decimal.NewFromInt(1000)

	v := &g.Vamms[0]
	v.QuoteAssetReserve = decimal.NewFromInt(1000)
	v.BaseAssetReserve = decimal.NewFromInt(100)
	v.TollRatio = decimal.Zero
	v.SpreadRatio = decimal.Zero
	v.FluctuationLimitRatio = decimal.Zero
	v.FundingPeriod = 86_400
	v.OraclePrice = decimal.NewFromInt(10)
	return cfg
}

func runScenario(s scenario) ([]result, error) {
	cfg := scenarioConfig()
	d, err := devnet.Deploy(devnet.NewApp(storage.NewMemStore(), cfg.Chain, zap.NewNop()), cfg.Genesis)
	if err != nil {
		return nil, err
	}
	return s.Run(&scenarioEnv{d: d, market: cfg.Genesis.Vamms[0].Address})
}

func (e *scenarioEnv) open(trader string, side engine.Side, q, leverage int64) (*chain.TxResult, error) {
	quote, err := e.d.Units(decimal.NewFromInt(q))
	if err != nil {
		return nil, err
	}
	lev, err := e.d.Units(decimal.NewFromInt(leverage))
	if err != nil {
		return nil, err
	}
	return e.d.App.Execute(trader, e.d.Engine, engine.OpenPosition{Vamm: e.market, Side: side, QuoteAssetAmount: quote, Leverage: lev})
}

func (e *scenarioEnv) position(trader string) (engine.Position, error) {
	return chain.QueryAs[engine.Position](e.d.App, e.d.Engine, engine.PositionQuery{Vamm: e.market, Trader: trader})
}

func (e *scenarioEnv) marginRatio(trader string) (fixed.Integer, error) {
	return chain.QueryAs[fixed.Integer](e.d.App, e.d.Engine, engine.MarginRatio{Vamm: e.market, Trader: trader})
}

func (e *scenarioEnv) attr(res *chain.TxResult, key string) string {
	v, _ := chain.FindAttribute(res.Events, e.d.Engine, key)
	return v
}

// positionResults 原始定点值，方便和手算对照
func (e *scenarioEnv) positionResults(trader string) ([]result, error) {
	pos, err := e.position(trader)
	if errors.Is(err, engine.ErrNoPosition) {
		return []result{{"position", "none"}}, nil
	}
	if err != nil {
		return nil, err
	}
	ratio, err := e.marginRatio(trader)
	if err != nil {
		return nil, err
	}
	return []result{
		{"size", pos.Size.String()},
		{"margin", pos.Margin.String()},
		{"notional", pos.Notional.String()},
		{"margin_ratio", ratio.String()},
	}, nil
}

func (e *scenarioEnv) withBalance(res []result, label, addr string) ([]result, error) {
	b, err := e.d.Balance(addr)
	if err != nil {
		return nil, err
	}
	return append(res, result{label, b.String()}), nil
}

// =============================================================================
// 场景
// =============================================================================

func runOpenLong(e *scenarioEnv) ([]result, error) {
	if _, err := e.open("alice", engine.Buy, 60, 10); err != nil {
		return nil, err
	}
	res, err := e.positionResults("alice")
	if err != nil {
		return nil, err
	}
	return e.withBalance(res, "engine_balance", e.d.Engine)
}

func runTwoLongs(e *scenarioEnv) ([]result, error) {
	for i := 0; i < 2; i++ {
		if _, err := e.open("alice", engine.Buy, 60, 10); err != nil {
			return nil, err
		}
	}
	return e.positionResults("alice")
}

func runTwoShorts(e *scenarioEnv) ([]result, error) {
	for i := 0; i < 2; i++ {
		if _, err := e.open("alice", engine.Sell, 40, 5); err != nil {
			return nil, err
		}
	}
	return e.positionResults("alice")
}

func runReverseFlat(e *scenarioEnv) ([]result, error) {
	if _, err := e.open("alice", engine.Buy, 60, 10); err != nil {
		return nil, err
	}
	tx, err := e.open("alice", engine.Sell, 300, 2)
	if err != nil {
		return nil, err
	}
	res, err := e.positionResults("alice")
	if err != nil {
		return nil, err
	}
	res = append(res, result{"exchanged_quote", e.attr(tx, "exchanged_quote")})
	return e.withBalance(res, "engine_balance", e.d.Engine)
}

func runLiquidation(e *scenarioEnv) ([]result, error) {
	e.d.App.NextBlock(1)
	price, err := e.d.Units(decimal.NewFromInt(12))
	if err != nil {
		return nil, err
	}
	if err := e.d.SetOraclePrice("ETH", price); err != nil {
		return nil, err
	}
	if _, err := e.open("alice", engine.Buy, 150, 4); err != nil {
		return nil, err
	}
	if _, err := e.open("bob", engine.Sell, 500, 1); err != nil {
		return nil, err
	}
	ratio, err := e.marginRatio("alice")
	if err != nil {
		return nil, err
	}
	tx, err := e.d.App.Execute(e.d.Keeper, e.d.Engine, engine.Liquidate{Vamm: e.market, Trader: "alice"})
	if err != nil {
		return nil, err
	}
	res := []result{{"margin_ratio_before", ratio.String()}}
	for _, k := range []string{"action", "exchanged_quote", "pnl", "liquidation_fee", "bad_debt", "fee_to_liquidator", "fee_to_insurance_fund"} {
		res = append(res, result{k, e.attr(tx, k)})
	}
	return e.withBalance(res, "insurance_balance", e.d.Insurance)
}

func runFunding(e *scenarioEnv) ([]result, error) {
	if _, err := e.open("bob", engine.Sell, 40, 5); err != nil {
		return nil, err
	}
	price, err := e.d.Units(decimal.RequireFromString("6.5"))
	if err != nil {
		return nil, err
	}
	// 整个周期内预言机都停在 6.5
	for _, secs := range []uint64{1, 86_400} {
		e.d.App.NextBlock(secs)
		if err := e.d.SetOraclePrice("ETH", price); err != nil {
			return nil, err
		}
	}
	tx, err := e.d.App.Execute(e.d.Operator, e.d.Engine, engine.PayFunding{Vamm: e.market})
	if err != nil {
		return nil, err
	}
	adjusted, err := chain.QueryAs[engine.Position](e.d.App, e.d.Engine, engine.PositionWithFundingPayment{Vamm: e.market, Trader: "bob"})
	if err != nil {
		return nil, err
	}
	spot, err := e.d.SpotPrice(e.market)
	if err != nil {
		return nil, err
	}
	return []result{
		{"spot_price", spot.String()},
		{"oracle_price", price.String()},
		{"premium_fraction", e.attr(tx, "premium_fraction")},
		{"margin_after_funding", adjusted.Margin.String()},
	}, nil
}
