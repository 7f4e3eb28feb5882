// 文件: pkg/token/asset_test.go

package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/cw20"
	"vperp.com/pkg/fixed"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Native("uusd").Validate())
	assert.NoError(t, Token("usdc").Validate())
	assert.ErrorIs(t, AssetInfo{}.Validate(), ErrInvalidAsset)
	assert.ErrorIs(t, AssetInfo{Denom: "a", Contract: "b"}.Validate(), ErrInvalidAsset)
}

func TestIntoMsg(t *testing.T) {
	amt := fixed.NewUint(42)

	msg, err := Native("uusd").IntoMsg("bob", amt, "")
	require.NoError(t, err)
	send, ok := msg.(chain.BankSend)
	require.True(t, ok)
	assert.Equal(t, "bob", send.To)
	assert.Equal(t, "42", send.Amount[0].Amount.String())

	_, err = Native("uusd").IntoMsg("engine", amt, "alice")
	require.ErrorIs(t, err, ErrNativeTransferFrom)

	msg, err = Token("usdc").IntoMsg("engine", amt, "alice")
	require.NoError(t, err)
	exec, ok := msg.(chain.ExecuteMsg)
	require.True(t, ok)
	assert.Equal(t, "usdc", exec.Contract)
	assert.Equal(t, cw20.TransferFrom{Owner: "alice", Recipient: "engine", Amount: amt}, exec.Msg)

	msg, err = Token("usdc").IntoMsg("bob", amt, "")
	require.NoError(t, err)
	assert.IsType(t, cw20.Transfer{}, msg.(chain.ExecuteMsg).Msg)
}

func TestAssertSentExact(t *testing.T) {
	a := Native("uusd")
	info := chain.MessageInfo{Sender: "alice", Funds: []chain.Coin{chain.NewCoin("uusd", fixed.NewUint(100))}}

	assert.NoError(t, a.AssertSentExact(info, fixed.NewUint(100)))
	assert.ErrorIs(t, a.AssertSentExact(info, fixed.NewUint(99)), ErrFundsMismatch)

	info.Funds = append(info.Funds, chain.NewCoin("uluna", fixed.NewUint(1)))
	assert.ErrorIs(t, a.AssertSentExact(info, fixed.NewUint(100)), ErrFundsMismatch)

	// 合约币不校验 funds
	assert.NoError(t, Token("usdc").AssertSentExact(info, fixed.NewUint(1)))
}
