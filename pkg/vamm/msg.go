// 文件: pkg/vamm/msg.go
// vAMM 合约消息与查询

package vamm

import (
	"vperp.com/pkg/fixed"
)

// =============================================================================
// Instantiate / Execute
// =============================================================================

type InstantiateMsg struct {
	Decimals                uint8
	QuoteAsset              string
	BaseAsset               string
	QuoteAssetReserve       fixed.Uint
	BaseAssetReserve        fixed.Uint
	FundingPeriod           uint64
	TollRatio               fixed.Uint
	SpreadRatio             fixed.Uint
	FluctuationLimitRatio   fixed.Uint
	InitialMarginRatio      fixed.Uint
	SpotPriceTwapInterval   uint64 // 0 表示使用默认值
	BaseAssetHoldingCap     fixed.Uint
	OpenInterestNotionalCap fixed.Uint
	Pricefeed               string
	MarginEngine            string
	InsuranceFund           string
}

// UpdateConfig 只修改非 nil 字段
type UpdateConfig struct {
	Owner                   *string
	BaseAssetHoldingCap     *fixed.Uint
	OpenInterestNotionalCap *fixed.Uint
	TollRatio               *fixed.Uint
	SpreadRatio             *fixed.Uint
	FluctuationLimitRatio   *fixed.Uint
	InitialMarginRatio      *fixed.Uint
	MarginEngine            *string
	InsuranceFund           *string
	Pricefeed               *string
	SpotPriceTwapInterval   *uint64
	FundingPeriod           *uint64
}

type SetOpen struct{ Open bool }

type SwapInput struct {
	Direction            Direction
	QuoteAssetAmount     fixed.Uint
	BaseAssetLimit       fixed.Uint
	CanGoOverFluctuation bool
}

type SwapOutput struct {
	Direction            Direction
	BaseAssetAmount      fixed.Uint
	QuoteAssetLimit      fixed.Uint
	CanGoOverFluctuation bool
}

type SettleFunding struct{}

type MigrateLiquidity struct {
	LiquidityMultiplier   fixed.Uint
	FluctuationLimitRatio *fixed.Uint
}

// =============================================================================
// Query
// =============================================================================

type ConfigQuery struct{}
type StateQuery struct{}
type GetSpotPrice struct{}

// GetInputPrice 按报价资产成交的平均价
type GetInputPrice struct {
	Direction Direction
	Amount    fixed.Uint
}

// GetOutputPrice 按基础资产成交的平均价
type GetOutputPrice struct {
	Direction Direction
	Amount    fixed.Uint
}

// GetInputAmount quote → base
type GetInputAmount struct {
	Direction Direction
	Amount    fixed.Uint
}

// GetOutputAmount base → quote
type GetOutputAmount struct {
	Direction Direction
	Amount    fixed.Uint
}

type GetInputTwap struct {
	Direction Direction
	Amount    fixed.Uint
}

type GetOutputTwap struct {
	Direction Direction
	Amount    fixed.Uint
}

type GetTwapPrice struct{ Interval uint64 }

type CalcFee struct{ QuoteAssetAmount fixed.Uint }

type IsOverSpreadLimit struct{}

type IsOverFluctuationLimit struct {
	Direction       Direction
	BaseAssetAmount fixed.Uint
}

type GetUnderlyingPrice struct{}

type GetUnderlyingTwapPrice struct{ Interval uint64 }

type ReserveSnapshots struct {
	Start uint64 // 起始序号 (含)，0 表示从最新往前
	Limit int
}

type ReserveSnapshotHeight struct{}

// =============================================================================
// 响应
// =============================================================================

type CalcFeeResponse struct {
	SpreadFee fixed.Uint `json:"spread_fee"`
	TollFee   fixed.Uint `json:"toll_fee"`
}

// Total spread + toll
func (r CalcFeeResponse) Total() (fixed.Uint, error) {
	return r.SpreadFee.Add(r.TollFee)
}

type SnapshotsResponse struct {
	Snapshots []ReserveSnapshot `json:"snapshots"`
}
