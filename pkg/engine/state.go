// 文件: pkg/engine/state.go
// 保证金引擎的持久化状态
//
// 【存储布局】(都在引擎自己的前缀下)
//   config                       Config
//   state                        State
//   sent-funds                   预付资金 (原生币 / cw20 Send 入金)
//   tmp-swap                     两阶段成交中间态，只在一个 tx 内存在
//   tmp-liquidator               强平人
//   position/<sha3(vamm‖trader)> Position
//   vamm-map/<vamm>              VammMap
//   tick/<vamm>/<side>/<price>/<trader>  按开仓均价排序的索引
//   whitelist/<addr>             白名单

package engine

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"

	"vperp.com/pkg/fixed"
	"vperp.com/pkg/storage"
	"vperp.com/pkg/token"
	"vperp.com/pkg/vamm"
)

// =============================================================================
// 方向
// =============================================================================

// Side 交易方向
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Direction Buy 报价资产进池，Sell 报价资产出池
func (s Side) Direction() vamm.Direction {
	if s == Buy {
		return vamm.AddToAmm
	}
	return vamm.RemoveFromAmm
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// SideOf 由持仓方向得到交易方向
func SideOf(dir vamm.Direction) Side {
	if dir == vamm.AddToAmm {
		return Buy
	}
	return Sell
}

func (s Side) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Side) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "buy":
		*s = Buy
	case "sell":
		*s = Sell
	default:
		return fmt.Errorf("invalid side %q", str)
	}
	return nil
}

// =============================================================================
// 配置与全局状态
// =============================================================================

// Config 引擎配置，比例都是 D 精度
type Config struct {
	Owner                   string          `json:"owner"`
	Pauser                  string          `json:"pauser"`
	Operator                string          `json:"operator"` // 可选，允许触发 PayFunding
	InsuranceFund           string          `json:"insurance_fund"`
	FeePool                 string          `json:"fee_pool"`
	EligibleCollateral      token.AssetInfo `json:"eligible_collateral"`
	Decimals                fixed.Uint      `json:"decimals"`
	InitialMarginRatio      fixed.Uint      `json:"initial_margin_ratio"`
	MaintenanceMarginRatio  fixed.Uint      `json:"maintenance_margin_ratio"`
	PartialLiquidationRatio fixed.Uint      `json:"partial_liquidation_ratio"`
	TpSlSpread              fixed.Uint      `json:"tp_sl_spread"`
	LiquidationFee          fixed.Uint      `json:"liquidation_fee"`
}

// State 全局状态
type State struct {
	OpenInterestNotional fixed.Uint `json:"open_interest_notional"`
	PrepaidBadDebt       fixed.Uint `json:"prepaid_bad_debt"`
	Pause                bool       `json:"pause"`
}

// VammMap 每个 vAMM 的引擎侧记录
type VammMap struct {
	LastRestrictionBlock       uint64          `json:"last_restriction_block"`
	CumulativePremiumFractions []fixed.Integer `json:"cumulative_premium_fractions"`
	OpenInterestNotional       fixed.Uint      `json:"open_interest_notional"`
}

// LatestPremiumFraction 没有记录时为 0
func (m VammMap) LatestPremiumFraction() fixed.Integer {
	if n := len(m.CumulativePremiumFractions); n > 0 {
		return m.CumulativePremiumFractions[n-1]
	}
	return fixed.Integer{}
}

// =============================================================================
// 仓位
// =============================================================================

// Position 交易者在一个 vAMM 上的仓位
//
// Size 带符号: 多头为正，空头为负。Notional 是开仓名义价值 (不随价格变化)
type Position struct {
	Vamm                       string         `json:"vamm"`
	Trader                     string         `json:"trader"`
	Direction                  vamm.Direction `json:"direction"`
	Size                       fixed.Integer  `json:"size"`
	Margin                     fixed.Uint     `json:"margin"`
	Notional                   fixed.Uint     `json:"notional"`
	LastUpdatedPremiumFraction fixed.Integer  `json:"last_updated_premium_fraction"`
	TakeProfit                 *fixed.Uint    `json:"take_profit,omitempty"`
	StopLoss                   *fixed.Uint    `json:"stop_loss,omitempty"`
	BlockHeight                uint64         `json:"block_height"`
	BlockTime                  uint64         `json:"block_time"`
}

func (p Position) IsLong() bool { return p.Size.IsPositive() }

// Side 持仓方向
func (p Position) Side() Side {
	if p.Size.IsNegative() {
		return Sell
	}
	return Buy
}

// CloseDirection 平仓时基础资产的方向: 平多卖回 (AddToAmm)，平空买回
func (p Position) CloseDirection() vamm.Direction {
	if p.Size.IsNegative() {
		return vamm.RemoveFromAmm
	}
	return vamm.AddToAmm
}

// EntryPrice Notional·D/|Size|
func (p Position) EntryPrice(d fixed.Uint) (fixed.Uint, error) {
	if p.Size.IsZero() {
		return fixed.Zero(), nil
	}
	return fixed.DivDec(p.Notional, p.Size.Abs(), d)
}

// TmpSwap 发出成交子消息到收到回调之间的中间态
type TmpSwap struct {
	Vamm             string        `json:"vamm"`
	Trader           string        `json:"trader"`
	Side             Side          `json:"side"`
	QuoteAssetAmount fixed.Uint    `json:"quote_asset_amount"` // 本次加到仓位上的保证金
	Leverage         fixed.Uint    `json:"leverage"`
	OpenNotional     fixed.Uint    `json:"open_notional"`
	BaseAssetLimit   fixed.Uint    `json:"base_asset_limit"`
	PositionNotional fixed.Uint    `json:"position_notional"` // 成交前按现价的仓位价值
	UnrealizedPnl    fixed.Integer `json:"unrealized_pnl"`
	MarginToVault    fixed.Integer `json:"margin_to_vault"` // 正数从交易者拉入，负数付给交易者
	SpreadFee        fixed.Uint    `json:"spread_fee"`
	TollFee          fixed.Uint    `json:"toll_fee"`
	FeesPaid         bool          `json:"fees_paid"`
	TakeProfit       *fixed.Uint   `json:"take_profit,omitempty"`
	StopLoss         *fixed.Uint   `json:"stop_loss,omitempty"`
}

// SentFunds 交易者预先付给引擎、还没有用掉的资金
type SentFunds struct {
	Trader string     `json:"trader"`
	Amount fixed.Uint `json:"amount"`
}

var (
	configItem    = storage.NewItem[Config]("config")
	stateItem     = storage.NewItem[State]("state")
	sentFundsItem = storage.NewItem[SentFunds]("sent-funds")
	tmpSwapItem   = storage.NewItem[TmpSwap]("tmp-swap")
	tmpLiquidator = storage.NewItem[string]("tmp-liquidator")
	positions     = storage.NewBucket[Position]("position")
	vammMaps      = storage.NewBucket[VammMap]("vamm-map")
	tickIndex     = storage.NewBucket[string]("tick")
	whitelist     = storage.NewBucket[bool]("whitelist")
)

// PositionKey sha3-256(vamm ‖ trader)
func PositionKey(vammAddr, trader string) []byte {
	h := sha3.New256()
	h.Write([]byte(vammAddr))
	h.Write([]byte(trader))
	return h.Sum(nil)
}

// =============================================================================
// 存取
// =============================================================================

func loadVammMap(s storage.KVStore, vammAddr string) (VammMap, error) {
	m, err := vammMaps.MayLoad(s, []byte(vammAddr))
	if err != nil || m == nil {
		return VammMap{}, err
	}
	return *m, nil
}

func saveVammMap(s storage.KVStore, vammAddr string, m VammMap) error {
	return vammMaps.Save(s, []byte(vammAddr), m)
}

// loadPosition 不存在时返回空仓位 (Size=0)
func loadPosition(s storage.KVStore, vammAddr, trader string) (Position, bool, error) {
	p, err := positions.MayLoad(s, PositionKey(vammAddr, trader))
	if err != nil {
		return Position{}, false, err
	}
	if p == nil {
		return Position{Vamm: vammAddr, Trader: trader}, false, nil
	}
	return *p, true, nil
}

// savePosition 写仓位并维护 tick 索引
func savePosition(s storage.KVStore, d fixed.Uint, p Position) error {
	if err := dropTick(s, d, p.Vamm, p.Trader); err != nil {
		return err
	}
	if p.Size.IsZero() {
		return positions.Remove(s, PositionKey(p.Vamm, p.Trader))
	}
	if err := positions.Save(s, PositionKey(p.Vamm, p.Trader), p); err != nil {
		return err
	}
	key, err := tickKey(d, p)
	if err != nil {
		return err
	}
	return tickIndex.Save(s, key, p.Trader)
}

func removePosition(s storage.KVStore, d fixed.Uint, vammAddr, trader string) error {
	if err := dropTick(s, d, vammAddr, trader); err != nil {
		return err
	}
	return positions.Remove(s, PositionKey(vammAddr, trader))
}

func dropTick(s storage.KVStore, d fixed.Uint, vammAddr, trader string) error {
	old, err := positions.MayLoad(s, PositionKey(vammAddr, trader))
	if err != nil || old == nil || old.Size.IsZero() {
		return err
	}
	key, err := tickKey(d, *old)
	if err != nil {
		return err
	}
	return tickIndex.Remove(s, key)
}

// tickKey <vamm>/<side>/<32 字节大端均价>/<trader>，同一方向内按均价升序
func tickKey(d fixed.Uint, p Position) ([]byte, error) {
	price, err := p.EntryPrice(d)
	if err != nil {
		return nil, err
	}
	b := price.Bytes32()
	key := make([]byte, 0, len(p.Vamm)+len(p.Trader)+40)
	key = append(key, tickPrefix(p.Vamm, p.Side())...)
	key = append(key, b[:]...)
	key = append(key, '/')
	return append(key, p.Trader...), nil
}

func tickPrefix(vammAddr string, side Side) []byte {
	return []byte(vammAddr + "/" + side.String() + "/")
}

func encodeCursor(b []byte) string { return hex.EncodeToString(b) }

func decodeCursor(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

func isWhitelisted(s storage.KVStore, addr string) (bool, error) {
	return whitelist.Has(s, []byte(addr))
}
