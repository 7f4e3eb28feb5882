// 文件: pkg/feepool/contract_test.go

package feepool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/cw20"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/storage"
	"vperp.com/pkg/token"
)

func setupPool(t *testing.T) *chain.App {
	app := chain.NewApp(storage.NewMemStore())
	_, err := app.Instantiate("owner", "usdc", cw20.New(), cw20.InstantiateMsg{
		Symbol:          "USDC",
		Decimals:        9,
		InitialBalances: []cw20.Balance{{Address: "feepool", Amount: fixed.NewUint(1_000)}},
	})
	require.NoError(t, err)
	_, err = app.Instantiate("owner", "feepool", New(), InstantiateMsg{})
	require.NoError(t, err)
	return app
}

func TestTokenRegistry(t *testing.T) {
	app := setupPool(t)

	tokens := []token.AssetInfo{token.Token("usdc"), token.Native("uusd"), token.Native("uluna")}
	for _, tk := range tokens {
		_, err := app.Execute("owner", "feepool", AddToken{Token: tk})
		require.NoError(t, err)
	}
	_, err := app.Execute("owner", "feepool", AddToken{Token: token.Native("uusd")})
	require.ErrorIs(t, err, ErrTokenExists)
	_, err = app.Execute("owner", "feepool", AddToken{Token: token.Native("uatom")})
	require.ErrorIs(t, err, ErrTokenLimit)

	n, err := chain.QueryAs[int](app, "feepool", GetTokenLength{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = app.Execute("owner", "feepool", RemoveToken{Token: token.Native("uusd")})
	require.NoError(t, err)
	is, err := chain.QueryAs[bool](app, "feepool", IsToken{Token: token.Native("uusd")})
	require.NoError(t, err)
	assert.False(t, is)

	list, err := chain.QueryAs[[]token.AssetInfo](app, "feepool", GetTokenList{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []token.AssetInfo{token.Token("usdc")}, list)
}

func TestSendTokenCapsAtBalance(t *testing.T) {
	app := setupPool(t)
	usdc := token.Token("usdc")

	_, err := app.Execute("owner", "feepool", SendToken{Token: usdc, Amount: fixed.NewUint(10), Recipient: "bob"})
	require.ErrorIs(t, err, ErrTokenNotFound)

	_, err = app.Execute("owner", "feepool", AddToken{Token: usdc})
	require.NoError(t, err)

	_, err = app.Execute("alice", "feepool", SendToken{Token: usdc, Amount: fixed.NewUint(10), Recipient: "alice"})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = app.Execute("owner", "feepool", SendToken{Token: usdc, Amount: fixed.NewUint(5_000), Recipient: "bob"})
	require.NoError(t, err)

	bal, err := chain.QueryAs[cw20.BalanceResponse](app, "usdc", cw20.BalanceQuery{Address: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "1000", bal.Balance.String())

	_, err = app.Execute("owner", "feepool", SendToken{Token: usdc, Amount: fixed.NewUint(1), Recipient: "bob"})
	require.ErrorIs(t, err, ErrEmptyBalance)
}
