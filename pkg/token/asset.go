// 文件: pkg/token/asset.go
// 统一的抵押品转账适配
//
// 抵押品有两种形态:
//   - Native{denom}: 宿主原生币，入金靠调用时附带 funds，出金发 BankSend
//   - Token{addr}:   cw20 风格的合约币，入金 TransferFrom，出金 Transfer
//
// 业务合约只和 AssetInfo 打交道，不关心具体形态

package token

import (
	"errors"
	"fmt"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/cw20"
	"vperp.com/pkg/fixed"
)

var (
	ErrFundsMismatch      = errors.New("sent funds mismatch")
	ErrInvalidAsset       = errors.New("invalid asset info")
	ErrNativeTransferFrom = errors.New("native tokens cannot be pulled with transfer_from")
)

// AssetInfo 抵押品描述，二选一
type AssetInfo struct {
	Denom    string `json:"denom,omitempty"`
	Contract string `json:"contract,omitempty"`
}

func Native(denom string) AssetInfo { return AssetInfo{Denom: denom} }

func Token(addr string) AssetInfo { return AssetInfo{Contract: addr} }

func (a AssetInfo) IsNative() bool { return a.Denom != "" }

func (a AssetInfo) Validate() error {
	if (a.Denom == "") == (a.Contract == "") {
		return ErrInvalidAsset
	}
	return nil
}

func (a AssetInfo) Equal(b AssetInfo) bool {
	return a.Denom == b.Denom && a.Contract == b.Contract
}

// String native:<denom> / token:<addr>
func (a AssetInfo) String() string {
	if a.IsNative() {
		return "native:" + a.Denom
	}
	return "token:" + a.Contract
}

// =============================================================================
// 出金
// =============================================================================

// TransferMsg 从当前合约转出 amount 给 recipient
func (a AssetInfo) TransferMsg(recipient string, amount fixed.Uint) chain.Msg {
	if a.IsNative() {
		return chain.BankSend{To: recipient, Amount: []chain.Coin{chain.NewCoin(a.Denom, amount)}}
	}
	return chain.ExecuteMsg{Contract: a.Contract, Msg: cw20.Transfer{Recipient: recipient, Amount: amount}}
}

// TransferFromMsg 从 owner 拉取 amount 给 recipient (需要 owner 事先授权)
func (a AssetInfo) TransferFromMsg(owner, recipient string, amount fixed.Uint) (chain.Msg, error) {
	if a.IsNative() {
		return nil, ErrNativeTransferFrom
	}
	return chain.ExecuteMsg{Contract: a.Contract, Msg: cw20.TransferFrom{Owner: owner, Recipient: recipient, Amount: amount}}, nil
}

// IntoMsg 统一入口: from 为空时是出金，否则是从 from 拉取
func (a AssetInfo) IntoMsg(recipient string, amount fixed.Uint, from string) (chain.Msg, error) {
	if from == "" {
		return a.TransferMsg(recipient, amount), nil
	}
	return a.TransferFromMsg(from, recipient, amount)
}

// =============================================================================
// 查询 / 入金校验
// =============================================================================

// Balance 查询 addr 持有的余额
func (a AssetInfo) Balance(q chain.Querier, addr string) (fixed.Uint, error) {
	if a.IsNative() {
		return q.QueryBalance(addr, a.Denom)
	}
	res, err := chain.Query[cw20.BalanceResponse](q, a.Contract, cw20.BalanceQuery{Address: addr})
	if err != nil {
		return fixed.Zero(), err
	}
	return res.Balance, nil
}

// Decimals 合约币读 TokenInfo，原生币使用默认精度
func (a AssetInfo) Decimals(q chain.Querier, nativeDecimals uint8) (uint8, error) {
	if a.IsNative() {
		return nativeDecimals, nil
	}
	info, err := chain.Query[cw20.TokenInfoResponse](q, a.Contract, cw20.TokenInfoQuery{})
	if err != nil {
		return 0, err
	}
	return info.Decimals, nil
}

// AssertSentExact 原生币入金: 附带的 funds 必须恰好等于 amount，且不能附带其他币
func (a AssetInfo) AssertSentExact(info chain.MessageInfo, amount fixed.Uint) error {
	if !a.IsNative() {
		return nil
	}
	for _, c := range info.Funds {
		if c.Denom != a.Denom && !c.Amount.IsZero() {
			return fmt.Errorf("%w: unexpected denom %s", ErrFundsMismatch, c.Denom)
		}
	}
	sent := info.AmountOf(a.Denom)
	if !sent.Eq(amount) {
		return fmt.Errorf("%w: sent %s%s, required %s%s", ErrFundsMismatch, sent, a.Denom, amount, a.Denom)
	}
	return nil
}

// DecimalsQuery 询问合约使用的定点精度 D (保证金引擎 / vAMM 都会响应)，返回 fixed.Uint
type DecimalsQuery struct{}
