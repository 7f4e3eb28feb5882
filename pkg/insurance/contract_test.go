// 文件: pkg/insurance/contract_test.go

package insurance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/pricefeed"
	"vperp.com/pkg/storage"
	"vperp.com/pkg/token"
	"vperp.com/pkg/vamm"
)

// decimalsStub 只回答精度查询的假引擎
type decimalsStub struct{ d fixed.Uint }

func (s decimalsStub) Instantiate(chain.Context, chain.MessageInfo, any) (*chain.Response, error) {
	return chain.NewResponse(), nil
}

func (s decimalsStub) Execute(chain.Context, chain.MessageInfo, any) (*chain.Response, error) {
	return chain.NewResponse(), nil
}

func (s decimalsStub) Query(_ chain.Context, req any) (any, error) {
	if _, ok := req.(token.DecimalsQuery); ok {
		return s.d, nil
	}
	return nil, chain.ErrUnknownQuery
}

func deployVamm(t *testing.T, app *chain.App, addr string, decimals uint8) {
	_, err := app.Instantiate("owner", addr, vamm.New(), vamm.InstantiateMsg{
		Decimals:           decimals,
		QuoteAsset:         "USD",
		BaseAsset:          "ETH",
		QuoteAssetReserve:  fixed.NewUint(1_000_000),
		BaseAssetReserve:   fixed.NewUint(1_000),
		FundingPeriod:      3600,
		InitialMarginRatio: fixed.NewUint(5),
		Pricefeed:          "oracle",
		MarginEngine:       "engine",
		InsuranceFund:      "insurance",
	})
	require.NoError(t, err)
	_, err = app.Execute("owner", addr, vamm.SetOpen{Open: true})
	require.NoError(t, err)
}

func setupInsurance(t *testing.T) *chain.App {
	app := chain.NewApp(storage.NewMemStore())
	_, err := app.Instantiate("owner", "oracle", pricefeed.New(), pricefeed.InstantiateMsg{})
	require.NoError(t, err)
	_, err = app.Instantiate("owner", "engine", decimalsStub{d: fixed.Pow10(9)}, nil)
	require.NoError(t, err)
	_, err = app.Instantiate("owner", "insurance", New(), InstantiateMsg{Engine: "engine"})
	require.NoError(t, err)
	return app
}

func TestAddVammRegistry(t *testing.T) {
	app := setupInsurance(t)
	for i := 0; i < VammLimit+1; i++ {
		deployVamm(t, app, fmt.Sprintf("vamm%d", i), 9)
	}

	_, err := app.Execute("alice", "insurance", AddVamm{Vamm: "vamm0"})
	require.ErrorIs(t, err, ErrUnauthorized)

	for i := 0; i < VammLimit; i++ {
		_, err := app.Execute("owner", "insurance", AddVamm{Vamm: fmt.Sprintf("vamm%d", i)})
		require.NoError(t, err)
	}
	_, err = app.Execute("owner", "insurance", AddVamm{Vamm: "vamm0"})
	require.ErrorIs(t, err, ErrVammExists)
	_, err = app.Execute("owner", "insurance", AddVamm{Vamm: fmt.Sprintf("vamm%d", VammLimit)})
	require.ErrorIs(t, err, ErrVammLimit)

	all, err := chain.QueryAs[[]string](app, "insurance", GetAllVamm{})
	require.NoError(t, err)
	assert.Equal(t, []string{"vamm0", "vamm1", "vamm2"}, all)

	_, err = app.Execute("owner", "insurance", RemoveVamm{Vamm: "vamm1"})
	require.NoError(t, err)
	is, err := chain.QueryAs[bool](app, "insurance", IsVamm{Vamm: "vamm1"})
	require.NoError(t, err)
	assert.False(t, is)

	_, err = app.Execute("owner", "insurance", RemoveVamm{Vamm: "vamm1"})
	require.ErrorIs(t, err, ErrVammNotFound)
}

func TestAddVammDecimalsMismatch(t *testing.T) {
	app := setupInsurance(t)
	deployVamm(t, app, "vamm6", 6)

	_, err := app.Execute("owner", "insurance", AddVamm{Vamm: "vamm6"})
	require.ErrorIs(t, err, ErrDecimalsMismatch)
}

func TestShutdownVamms(t *testing.T) {
	app := setupInsurance(t)
	deployVamm(t, app, "vamm0", 9)
	deployVamm(t, app, "vamm1", 9)
	for _, v := range []string{"vamm0", "vamm1"} {
		_, err := app.Execute("owner", "insurance", AddVamm{Vamm: v})
		require.NoError(t, err)
	}

	_, err := app.Execute("alice", "insurance", ShutdownVamms{})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = app.Execute("owner", "insurance", ShutdownVamms{})
	require.NoError(t, err)

	status, err := chain.QueryAs[[]VammStatus](app, "insurance", GetAllVammStatus{})
	require.NoError(t, err)
	require.Len(t, status, 2)
	for _, s := range status {
		assert.False(t, s.Open, s.Vamm)
	}
}

func TestWithdrawOnlyEngine(t *testing.T) {
	app := setupInsurance(t)
	usd := token.Native("uusd")
	require.NoError(t, app.Mint("insurance", chain.NewCoin("uusd", fixed.NewUint(500))))

	_, err := app.Execute("alice", "insurance", Withdraw{Token: usd, Amount: fixed.NewUint(100)})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = app.Execute("engine", "insurance", Withdraw{Token: usd, Amount: fixed.NewUint(100)})
	require.NoError(t, err)

	bal, err := app.Balance("engine", "uusd")
	require.NoError(t, err)
	assert.Equal(t, "100", bal.String())

	left, err := chain.QueryAs[fixed.Uint](app, "insurance", GetTokenBalance{Token: usd})
	require.NoError(t, err)
	assert.Equal(t, "400", left.String())

	_, err = app.Execute("engine", "insurance", Withdraw{Token: usd, Amount: fixed.NewUint(1_000)})
	require.ErrorIs(t, err, chain.ErrInsufficientFunds)
}
