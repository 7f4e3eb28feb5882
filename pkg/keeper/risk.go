// 文件: pkg/keeper/risk.go
// 仓位风险分级
//
// 风险率 = 维持保证金率 / 当前保证金率
//   - 保证金率低于 MMR 时风险率 > 1，引擎允许强平
//   - 保证金率 <= 0 (已经穿仓) 视为无穷大
//
// 分级只用来决定检查频率，是否强平以定点数比较为准，不看浮点

package keeper

import (
	"math"

	"vperp.com/pkg/engine"
	"vperp.com/pkg/fixed"
)

// RiskLevel 风险等级
type RiskLevel int

const (
	RiskLevelSafe RiskLevel = iota
	RiskLevelWarning
	RiskLevelDanger
	RiskLevelCritical
	RiskLevelLiquidate
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLevelSafe:
		return "SAFE"
	case RiskLevelWarning:
		return "WARNING"
	case RiskLevelDanger:
		return "DANGER"
	case RiskLevelCritical:
		return "CRITICAL"
	case RiskLevelLiquidate:
		return "LIQUIDATE"
	default:
		return "UNKNOWN"
	}
}

const (
	ThresholdWarning  = 0.70
	ThresholdDanger   = 0.80
	ThresholdCritical = 0.90
)

// PositionRisk 一个仓位的风险快照
type PositionRisk struct {
	Vamm        string
	Trader      string
	MarginRatio fixed.Integer
	RiskRatio   float64
	Level       RiskLevel
	UpdatedAt   int64 // 区块时间
}

// Key vamm/trader
func (r PositionRisk) Key() string { return r.Vamm + "/" + r.Trader }

// AssessRisk 根据保证金率和 MMR 计算风险快照
func AssessRisk(pos engine.Position, ratio fixed.Integer, mmr fixed.Uint, now int64) PositionRisk {
	r := PositionRisk{
		Vamm:        pos.Vamm,
		Trader:      pos.Trader,
		MarginRatio: ratio,
		UpdatedAt:   now,
	}
	switch {
	case !ratio.IsPositive():
		r.RiskRatio = math.Inf(1)
	default:
		r.RiskRatio = mmr.Float64() / ratio.Abs().Float64()
	}
	if ratio.Lt(fixed.NewInteger(mmr)) {
		r.Level = RiskLevelLiquidate
		return r
	}
	r.Level = CalculateRiskLevel(r.RiskRatio)
	return r
}

// CalculateRiskLevel 只按风险率分级，不会给出 Liquidate
func CalculateRiskLevel(riskRatio float64) RiskLevel {
	switch {
	case riskRatio >= ThresholdCritical:
		return RiskLevelCritical
	case riskRatio >= ThresholdDanger:
		return RiskLevelDanger
	case riskRatio >= ThresholdWarning:
		return RiskLevelWarning
	default:
		return RiskLevelSafe
	}
}
