// 文件: pkg/engine/msg.go
// 保证金引擎消息、查询与响应

package engine

import (
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/token"
)

// 子消息回调 ID
const (
	ReplyIncrease uint64 = iota + 1
	ReplyDecrease
	ReplyReverse
	ReplyClose
	ReplyPartialClose
	ReplyLiquidate
	ReplyPartialLiquidate
	ReplyPayFunding
	ReplyTransferFailure
)

// =============================================================================
// Instantiate / 管理
// =============================================================================

type InstantiateMsg struct {
	Pauser                  string // 为空时等于 owner
	InsuranceFund           string
	FeePool                 string
	EligibleCollateral      token.AssetInfo
	Decimals                uint8 // 原生币抵押品使用；合约币读 TokenInfo
	InitialMarginRatio      fixed.Uint
	MaintenanceMarginRatio  fixed.Uint
	PartialLiquidationRatio fixed.Uint
	TpSlSpread              fixed.Uint
	LiquidationFee          fixed.Uint
}

// UpdateConfig 只修改非 nil 字段
type UpdateConfig struct {
	Owner                   *string
	Pauser                  *string
	Operator                *string
	InsuranceFund           *string
	FeePool                 *string
	InitialMarginRatio      *fixed.Uint
	MaintenanceMarginRatio  *fixed.Uint
	PartialLiquidationRatio *fixed.Uint
	TpSlSpread              *fixed.Uint
	LiquidationFee          *fixed.Uint
}

type SetPause struct{ Pause bool }

type AddWhitelist struct{ Address string }

type RemoveWhitelist struct{ Address string }

// =============================================================================
// 交易
// =============================================================================

// OpenPosition 开仓 / 加仓 / 减仓 / 反手，由现有仓位和方向决定
type OpenPosition struct {
	Vamm             string
	Side             Side
	QuoteAssetAmount fixed.Uint // 保证金 q
	Leverage         fixed.Uint // D 精度
	BaseAssetLimit   fixed.Uint // 0 不限制
	TakeProfit       *fixed.Uint
	StopLoss         *fixed.Uint
}

type ClosePosition struct {
	Vamm            string
	QuoteAssetLimit fixed.Uint
}

type Liquidate struct {
	Vamm            string
	Trader          string
	QuoteAssetLimit fixed.Uint
}

type PayFunding struct{ Vamm string }

type DepositMargin struct {
	Vamm   string
	Amount fixed.Uint
}

type WithdrawMargin struct {
	Vamm   string
	Amount fixed.Uint
}

// UpdateTpSl nil 保持不变，0 表示清除
type UpdateTpSl struct {
	Vamm       string
	TakeProfit *fixed.Uint
	StopLoss   *fixed.Uint
}

// TriggerTpSl 任何人都可以触发已经满足条件的止盈止损
type TriggerTpSl struct {
	Vamm   string
	Trader string
}

// =============================================================================
// 查询
// =============================================================================

type ConfigQuery struct{}

type StateQuery struct{}

type PositionQuery struct {
	Vamm   string
	Trader string
}

// AllPositions 交易者在所有已注册 vAMM 上的仓位
type AllPositions struct{ Trader string }

// PositionsByVamm 按开仓均价升序分页；Side 为 nil 时先多后空
type PositionsByVamm struct {
	Vamm       string
	Side       *Side
	StartAfter string
	Limit      int
}

// PnlCalcOption 未实现盈亏的估值方式
type PnlCalcOption int

const (
	SpotPrice PnlCalcOption = iota
	TwapPrice
	OraclePrice
)

type UnrealizedPnl struct {
	Vamm   string
	Trader string
	Option PnlCalcOption
}

type CumulativePremiumFraction struct{ Vamm string }

type MarginRatio struct {
	Vamm   string
	Trader string
}

type FreeCollateral struct {
	Vamm   string
	Trader string
}

// BalanceWithFundingPayment 交易者所有仓位的保证金 + 资金费
type BalanceWithFundingPayment struct{ Trader string }

type PositionWithFundingPayment struct {
	Vamm   string
	Trader string
}

type IsWhitelisted struct{ Address string }

type GetWhitelist struct{ Limit int }

type TmpSwapQuery struct{}

// =============================================================================
// 响应
// =============================================================================

type PnlResponse struct {
	PositionNotional fixed.Uint    `json:"position_notional"`
	UnrealizedPnl    fixed.Integer `json:"unrealized_pnl"`
}

type PositionsResponse struct {
	Positions []Position `json:"positions"`
	NextKey   string     `json:"next_key,omitempty"`
}
