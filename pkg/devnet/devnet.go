// 文件: pkg/devnet/devnet.go
// 开发网: 按配置在进程内宿主上部署整套合约
//
// 【职责】
// - 打开账本存储 (内存 / LevelDB)，创建宿主
// - 部署 预言机 → 抵押品 → 保证金引擎 → 保险基金 → 手续费池 → vAMM，并互相登记
// - 给交易者发抵押品，授权给引擎
//
// 模拟器、HTTP 接口和各个 keeper 的测试都从这里起一条链

package devnet

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/config"
	"vperp.com/pkg/cw20"
	"vperp.com/pkg/engine"
	"vperp.com/pkg/feepool"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/insurance"
	"vperp.com/pkg/pricefeed"
	"vperp.com/pkg/storage"
	"vperp.com/pkg/token"
	"vperp.com/pkg/vamm"
)

// Market 一个已部署的 vAMM
type Market struct {
	Address   string
	OracleKey string
}

// Devnet 部署结果
type Devnet struct {
	App *chain.App

	Owner    string
	Operator string
	Keeper   string

	Oracle     string
	Engine     string
	Insurance  string
	FeePool    string
	Collateral token.AssetInfo
	Decimals   int32

	Markets []Market
	Traders []string
}

// OpenStore 按配置打开账本，返回的 closer 在进程退出时调用
func OpenStore(cfg config.ChainConfig) (storage.KVStore, func() error, error) {
	switch cfg.Store {
	case "leveldb":
		s, err := storage.OpenLevelStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return storage.NewMemStore(), func() error { return nil }, nil
	}
}

// NewApp 创建宿主，创世时间为 0 时取当前时间
func NewApp(store storage.KVStore, cfg config.ChainConfig, logger *zap.Logger) *chain.App {
	start := cfg.StartTime
	if start == 0 {
		start = uint64(time.Now().Unix())
	}
	return chain.NewApp(store,
		chain.WithLogger(logger),
		chain.WithBlock(chain.BlockInfo{Height: 1, Time: start}),
	)
}

// Deploy 部署创世合约
func Deploy(app *chain.App, g config.GenesisConfig) (*Devnet, error) {
	d := &Devnet{
		App:       app,
		Owner:     g.Owner,
		Operator:  g.Operator,
		Keeper:    g.Keeper,
		Oracle:    g.Engine.Pricefeed,
		Engine:    g.Engine.Address,
		Insurance: g.Engine.InsuranceFund,
		FeePool:   g.Engine.FeePool,
		Decimals:  int32(g.Collateral.Decimals),
	}
	if g.Collateral.Native {
		d.Collateral = token.Native(g.Collateral.Denom)
	} else {
		d.Collateral = token.Token(g.Collateral.Contract)
	}
	for _, t := range g.Traders {
		d.Traders = append(d.Traders, t.Address)
	}

	steps := []struct {
		name string
		fn   func(config.GenesisConfig) error
	}{
		{"oracle", d.deployOracle},
		{"collateral", d.deployCollateral},
		{"engine", d.deployEngine},
		{"insurance", d.deployInsurance},
		{"feepool", d.deployFeePool},
		{"vamms", d.deployVamms},
		{"allowances", d.approveEngine},
	}
	for _, s := range steps {
		if err := s.fn(g); err != nil {
			return nil, fmt.Errorf("deploy %s: %w", s.name, err)
		}
	}
	return d, nil
}

// =============================================================================
// 部署步骤
// =============================================================================

func (d *Devnet) deployOracle(config.GenesisConfig) error {
	_, err := d.App.Instantiate(d.Owner, d.Oracle, pricefeed.New(), pricefeed.InstantiateMsg{})
	return err
}

func (d *Devnet) deployCollateral(g config.GenesisConfig) error {
	insuranceBalance, err := d.Units(g.InsuranceBalance)
	if err != nil {
		return err
	}
	if g.Collateral.Native {
		mint := func(addr string, x decimal.Decimal) error {
			amount, err := d.Units(x)
			if err != nil || amount.IsZero() {
				return err
			}
			return d.App.Mint(addr, chain.NewCoin(g.Collateral.Denom, amount))
		}
		if err := mint(d.Insurance, g.InsuranceBalance); err != nil {
			return err
		}
		for _, t := range g.Traders {
			if err := mint(t.Address, t.Balance); err != nil {
				return err
			}
		}
		return nil
	}

	balances := []cw20.Balance{}
	if !insuranceBalance.IsZero() {
		balances = append(balances, cw20.Balance{Address: d.Insurance, Amount: insuranceBalance})
	}
	for _, t := range g.Traders {
		amount, err := d.Units(t.Balance)
		if err != nil {
			return err
		}
		balances = append(balances, cw20.Balance{Address: t.Address, Amount: amount})
	}
	_, err = d.App.Instantiate(d.Owner, g.Collateral.Contract, cw20.New(), cw20.InstantiateMsg{
		Name:            g.Collateral.Name,
		Symbol:          g.Collateral.Symbol,
		Decimals:        g.Collateral.Decimals,
		InitialBalances: balances,
		Minter:          d.Owner,
	})
	return err
}

func (d *Devnet) deployEngine(g config.GenesisConfig) error {
	ratios := map[string]decimal.Decimal{
		"imr": g.Engine.InitialMarginRatio,
		"mmr": g.Engine.MaintenanceMarginRatio,
		"plr": g.Engine.PartialLiquidationRatio,
		"lf":  g.Engine.LiquidationFee,
		"tp":  g.Engine.TpSlSpread,
	}
	conv := map[string]fixed.Uint{}
	for k, v := range ratios {
		u, err := d.Units(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		conv[k] = u
	}
	if _, err := d.App.Instantiate(d.Owner, d.Engine, engine.New(), engine.InstantiateMsg{
		InsuranceFund:           d.Insurance,
		FeePool:                 d.FeePool,
		EligibleCollateral:      d.Collateral,
		Decimals:                g.Collateral.Decimals,
		InitialMarginRatio:      conv["imr"],
		MaintenanceMarginRatio:  conv["mmr"],
		PartialLiquidationRatio: conv["plr"],
		TpSlSpread:              conv["tp"],
		LiquidationFee:          conv["lf"],
	}); err != nil {
		return err
	}
	if d.Operator == "" {
		return nil
	}
	_, err := d.App.Execute(d.Owner, d.Engine, engine.UpdateConfig{Operator: &d.Operator})
	return err
}

func (d *Devnet) deployInsurance(config.GenesisConfig) error {
	_, err := d.App.Instantiate(d.Owner, d.Insurance, insurance.New(), insurance.InstantiateMsg{Engine: d.Engine})
	return err
}

func (d *Devnet) deployFeePool(config.GenesisConfig) error {
	if _, err := d.App.Instantiate(d.Owner, d.FeePool, feepool.New(), feepool.InstantiateMsg{}); err != nil {
		return err
	}
	_, err := d.App.Execute(d.Owner, d.FeePool, feepool.AddToken{Token: d.Collateral})
	return err
}

func (d *Devnet) deployVamms(g config.GenesisConfig) error {
	imr, err := d.Units(g.Engine.InitialMarginRatio)
	if err != nil {
		return err
	}
	for _, v := range g.Vamms {
		amounts := map[string]decimal.Decimal{
			"quote":   v.QuoteAssetReserve,
			"base":    v.BaseAssetReserve,
			"toll":    v.TollRatio,
			"spread":  v.SpreadRatio,
			"fluct":   v.FluctuationLimitRatio,
			"holding": v.BaseAssetHoldingCap,
			"oi":      v.OpenInterestNotionalCap,
			"price":   v.OraclePrice,
		}
		u := map[string]fixed.Uint{}
		for k, x := range amounts {
			if u[k], err = d.Units(x); err != nil {
				return fmt.Errorf("%s %s: %w", v.Address, k, err)
			}
		}

		if err := d.SetOraclePrice(v.BaseAsset, u["price"]); err != nil {
			return err
		}
		if _, err := d.App.Instantiate(d.Owner, v.Address, vamm.New(), vamm.InstantiateMsg{
			Decimals:                uint8(d.Decimals),
			QuoteAsset:              v.QuoteAsset,
			BaseAsset:               v.BaseAsset,
			QuoteAssetReserve:       u["quote"],
			BaseAssetReserve:        u["base"],
			FundingPeriod:           v.FundingPeriod,
			TollRatio:               u["toll"],
			SpreadRatio:             u["spread"],
			FluctuationLimitRatio:   u["fluct"],
			InitialMarginRatio:      imr,
			BaseAssetHoldingCap:     u["holding"],
			OpenInterestNotionalCap: u["oi"],
			Pricefeed:               d.Oracle,
			MarginEngine:            d.Engine,
			InsuranceFund:           d.Insurance,
		}); err != nil {
			return err
		}
		if _, err := d.App.Execute(d.Owner, v.Address, vamm.SetOpen{Open: true}); err != nil {
			return err
		}
		if _, err := d.App.Execute(d.Owner, d.Insurance, insurance.AddVamm{Vamm: v.Address}); err != nil {
			return err
		}
		d.Markets = append(d.Markets, Market{Address: v.Address, OracleKey: v.BaseAsset})
	}
	return nil
}

// approveEngine cw20 抵押品需要预先授权，引擎才能 TransferFrom
func (d *Devnet) approveEngine(g config.GenesisConfig) error {
	if d.Collateral.IsNative() {
		return nil
	}
	for _, t := range g.Traders {
		amount, err := d.Units(t.Balance)
		if err != nil {
			return err
		}
		if _, err := d.App.Execute(t.Address, d.Collateral.Contract, cw20.IncreaseAllowance{Spender: d.Engine, Amount: amount}); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// 辅助
// =============================================================================

// Units 人类可读数量 → 定点整数
func (d *Devnet) Units(x decimal.Decimal) (fixed.Uint, error) {
	return fixed.FromDecimal(x, d.Decimals)
}

// Format 定点整数 → 人类可读
func (d *Devnet) Format(x fixed.Uint) string {
	return fixed.Format(x, d.Decimals)
}

// SetOraclePrice 以当前区块时间喂价；同一区块只能喂一次
func (d *Devnet) SetOraclePrice(key string, price fixed.Uint) error {
	_, err := d.App.Execute(d.Owner, d.Oracle, pricefeed.AppendPrice{Key: key, Price: price, Timestamp: d.App.Block().Time})
	return err
}

// OraclePrice 最新喂价
func (d *Devnet) OraclePrice(key string) (fixed.Uint, error) {
	res, err := chain.QueryAs[pricefeed.PriceResponse](d.App, d.Oracle, pricefeed.GetPrice{Key: key})
	if err != nil {
		return fixed.Uint{}, err
	}
	return res.Price, nil
}

// SpotPrice vAMM 现价
func (d *Devnet) SpotPrice(vammAddr string) (fixed.Uint, error) {
	return chain.QueryAs[fixed.Uint](d.App, vammAddr, vamm.GetSpotPrice{})
}

// Balance 抵押品余额
func (d *Devnet) Balance(addr string) (fixed.Uint, error) {
	if d.Collateral.IsNative() {
		return d.App.Balance(addr, d.Collateral.Denom)
	}
	res, err := chain.QueryAs[cw20.BalanceResponse](d.App, d.Collateral.Contract, cw20.BalanceQuery{Address: addr})
	if err != nil {
		return fixed.Uint{}, err
	}
	return res.Balance, nil
}

// MarketAddresses 所有 vAMM 地址
func (d *Devnet) MarketAddresses() []string {
	out := make([]string, 0, len(d.Markets))
	for _, m := range d.Markets {
		out = append(out, m.Address)
	}
	return out
}
