// 文件: pkg/cw20/msg.go
// cw20 风格合约币的消息与查询

package cw20

import (
	"vperp.com/pkg/fixed"
)

// InstantiateMsg 初始发行
type InstantiateMsg struct {
	Name            string
	Symbol          string
	Decimals        uint8
	InitialBalances []Balance
	Minter          string // 为空则不可增发
}

type Balance struct {
	Address string
	Amount  fixed.Uint
}

// =============================================================================
// Execute
// =============================================================================

type Transfer struct {
	Recipient string
	Amount    fixed.Uint
}

type TransferFrom struct {
	Owner     string
	Recipient string
	Amount    fixed.Uint
}

// Send 转账给合约并回调其 Receive
type Send struct {
	Contract string
	Amount   fixed.Uint
	Msg      any
}

type IncreaseAllowance struct {
	Spender string
	Amount  fixed.Uint
}

type DecreaseAllowance struct {
	Spender string
	Amount  fixed.Uint
}

type Mint struct {
	Recipient string
	Amount    fixed.Uint
}

type Burn struct {
	Amount fixed.Uint
}

// ReceiveMsg Send 投递给目标合约的钩子消息
type ReceiveMsg struct {
	Sender string // 原始付款人
	Amount fixed.Uint
	Msg    any
}

// =============================================================================
// Query
// =============================================================================

type BalanceQuery struct{ Address string }

type BalanceResponse struct {
	Balance fixed.Uint `json:"balance"`
}

type TokenInfoQuery struct{}

type TokenInfoResponse struct {
	Name        string     `json:"name"`
	Symbol      string     `json:"symbol"`
	Decimals    uint8      `json:"decimals"`
	TotalSupply fixed.Uint `json:"total_supply"`
}

type AllowanceQuery struct {
	Owner   string
	Spender string
}

type AllowanceResponse struct {
	Allowance fixed.Uint `json:"allowance"`
}
