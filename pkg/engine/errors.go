// 文件: pkg/engine/errors.go
// 保证金引擎错误定义
//
// 所有错误都是可读的一行文字，宿主原样返回给调用方

package engine

import (
	"errors"

	"vperp.com/pkg/token"
)

var (
	// 权限
	ErrUnauthorized = errors.New("unauthorized")

	// 生命周期
	ErrEnginePaused       = errors.New("margin engine is paused")
	ErrPauseNotToggled    = errors.New("pause state unchanged")
	ErrAmmClosed          = errors.New("amm is closed")
	ErrVammNotRegistered  = errors.New("vamm is not registered")
	ErrDecimalsMismatch   = errors.New("decimals mismatch")
	ErrInvalidConfig      = errors.New("invalid config")
	ErrInsuranceNotSet    = errors.New("insurance fund not set")
	ErrCollateralNotToken = errors.New("collateral is not a contract token")

	// 市场风险
	ErrUnderCollateralized           = errors.New("position is undercollateralized")
	ErrOvercollateralized            = errors.New("position is overcollateralized")
	ErrInsufficientMargin            = errors.New("insufficient margin")
	ErrCannotClosePositionBadDebt    = errors.New("cannot close position: bad debt")
	ErrCannotReducePositionBadDebt   = errors.New("cannot reduce position: bad debt")
	ErrCannotIncreasePositionBadDebt = errors.New("cannot increase position: bad debt")
	ErrBaseAssetHoldingCapExceeded   = errors.New("base asset holding exceeds cap")
	ErrOpenInterestCapExceeded       = errors.New("open interest exceeds cap")
	ErrNoPosition                    = errors.New("no position found")

	// 成交限制
	ErrOverSpreadLimit  = errors.New("amm is over spread limit")
	ErrZeroNotional     = errors.New("open notional is zero")
	ErrZeroAmount       = errors.New("amount is zero")
	ErrInvalidLeverage  = errors.New("leverage must be positive")
	ErrInvalidTpSl      = errors.New("invalid take profit / stop loss")
	ErrTpSlNotTriggered = errors.New("take profit / stop loss not triggered")
	ErrOnlyOneAction    = errors.New("only one action allowed per block")
	ErrInvalidDecrease  = errors.New("decrease exceeds position size")

	// 流程
	ErrConcurrentSwap      = errors.New("another swap is in flight")
	ErrNoTemporaryPosition = errors.New("no temporary position")
	ErrUnknownReply        = errors.New("unknown reply id")
	ErrMissingAttribute    = errors.New("missing swap attribute")

	// 资金，和原生币校验共用同一个错误
	ErrFundsMismatch  = token.ErrFundsMismatch
	ErrTransferFailed = errors.New("transfer failed")
)
