// 文件: pkg/devnet/devnet_test.go

package devnet

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/config"
	"vperp.com/pkg/engine"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/insurance"
)

func deploy(t *testing.T, mutate func(c *config.Config)) *Devnet {
	cfg := config.Default()
	cfg.Chain.StartTime = 1_700_000_000
	if mutate != nil {
		mutate(cfg)
	}
	store, closer, err := OpenStore(cfg.Chain)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closer() })

	d, err := Deploy(NewApp(store, cfg.Chain, zap.NewNop()), cfg.Genesis)
	require.NoError(t, err)
	return d
}

func amount(t *testing.T, d *Devnet, s string) fixed.Uint {
	u, err := d.Units(decimal.RequireFromString(s))
	require.NoError(t, err)
	return u
}

func TestDeployDefaults(t *testing.T) {
	d := deploy(t, nil)

	assert.Equal(t, []string{"vamm-eth"}, d.MarketAddresses())
	assert.Equal(t, []string{"alice", "bob", "carol"}, d.Traders)

	vamms, err := chain.QueryAs[[]string](d.App, d.Insurance, insurance.GetAllVamm{})
	require.NoError(t, err)
	assert.Equal(t, []string{"vamm-eth"}, vamms)

	spot, err := d.SpotPrice("vamm-eth")
	require.NoError(t, err)
	assert.Equal(t, "1000", d.Format(spot))
	oracle, err := d.OraclePrice("ETH")
	require.NoError(t, err)
	assert.Equal(t, "1000", d.Format(oracle))

	cfg, err := chain.QueryAs[engine.Config](d.App, d.Engine, engine.ConfigQuery{})
	require.NoError(t, err)
	assert.Equal(t, "operator", cfg.Operator)

	bal, err := d.Balance(d.Insurance)
	require.NoError(t, err)
	assert.Equal(t, "5000", d.Format(bal))
}

func TestDeployedMarketTrades(t *testing.T) {
	d := deploy(t, nil)

	_, err := d.App.Execute("alice", d.Engine, engine.OpenPosition{
		Vamm:             "vamm-eth",
		Side:             engine.Buy,
		QuoteAssetAmount: amount(t, d, "100"),
		Leverage:         amount(t, d, "5"),
	})
	require.NoError(t, err)

	// 名义 500，点差费和交易费各 0.1%
	bal, err := d.Balance("alice")
	require.NoError(t, err)
	assert.Equal(t, "9899", d.Format(bal))
	bal, err = d.Balance(d.FeePool)
	require.NoError(t, err)
	assert.Equal(t, "0.5", d.Format(bal))
	bal, err = d.Balance(d.Insurance)
	require.NoError(t, err)
	assert.Equal(t, "5000.5", d.Format(bal))
}

func TestDeployNativeCollateral(t *testing.T) {
	d := deploy(t, func(c *config.Config) {
		c.Genesis.Collateral = config.CollateralConfig{Native: true, Denom: "uusd", Decimals: 6}
	})
	assert.True(t, d.Collateral.IsNative())

	bal, err := d.Balance("bob")
	require.NoError(t, err)
	assert.Equal(t, "10000", d.Format(bal))
	assert.Equal(t, "10000000000", bal.String())
}

func TestDeployLevelDB(t *testing.T) {
	d := deploy(t, func(c *config.Config) {
		c.Chain.Store = "leveldb"
		c.Chain.DataDir = t.TempDir()
	})
	spot, err := d.SpotPrice("vamm-eth")
	require.NoError(t, err)
	assert.Equal(t, "1000", d.Format(spot))
}
