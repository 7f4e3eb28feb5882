// 文件: pkg/vamm/state.go
// vAMM 持久化状态与储备快照

package vamm

import (
	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/storage"
)

const (
	OneDay                = 86_400
	FundingBufferPeriod   = 1_800
	DefaultTwapInterval   = 900
	DefaultSnapshotsLimit = 10
	MaxSnapshotsLimit     = 100
)

// Config vAMM 配置
type Config struct {
	Owner                   string     `json:"owner"`
	MarginEngine            string     `json:"margin_engine"`
	InsuranceFund           string     `json:"insurance_fund"`
	Pricefeed               string     `json:"pricefeed"`
	QuoteAsset              string     `json:"quote_asset"`
	BaseAsset               string     `json:"base_asset"`
	Decimals                fixed.Uint `json:"decimals"` // 精度 D, 例如 1e9
	TollRatio               fixed.Uint `json:"toll_ratio"`
	SpreadRatio             fixed.Uint `json:"spread_ratio"`
	FluctuationLimitRatio   fixed.Uint `json:"fluctuation_limit_ratio"`
	InitialMarginRatio      fixed.Uint `json:"initial_margin_ratio"`
	FundingPeriod           uint64     `json:"funding_period"`
	SpotPriceTwapInterval   uint64     `json:"spot_price_twap_interval"`
	BaseAssetHoldingCap     fixed.Uint `json:"base_asset_holding_cap"`
	OpenInterestNotionalCap fixed.Uint `json:"open_interest_notional_cap"`
}

// MaxLeverage D / IMR
func (c Config) MaxLeverage() (fixed.Uint, error) {
	return fixed.DivDec(c.Decimals, c.InitialMarginRatio, c.Decimals)
}

// State vAMM 状态
//
// 【不变量】QuoteAssetReserve > 0 且 BaseAssetReserve > 0
type State struct {
	QuoteAssetReserve fixed.Uint    `json:"quote_asset_reserve"`
	BaseAssetReserve  fixed.Uint    `json:"base_asset_reserve"`
	TotalPositionSize fixed.Integer `json:"total_position_size"`
	FundingRate       fixed.Integer `json:"funding_rate"`
	NextFundingTime   uint64        `json:"next_funding_time"`
	Open              bool          `json:"open"`
}

// ReserveSnapshot 每次储备变化后的快照，同一区块内后写覆盖先写
type ReserveSnapshot struct {
	QuoteAssetReserve fixed.Uint `json:"quote_asset_reserve"`
	BaseAssetReserve  fixed.Uint `json:"base_asset_reserve"`
	Timestamp         uint64     `json:"timestamp"`
	BlockHeight       uint64     `json:"block_height"`
}

// Price Q·D/B
func (s ReserveSnapshot) Price(d fixed.Uint) (fixed.Uint, error) {
	return fixed.DivDec(s.QuoteAssetReserve, s.BaseAssetReserve, d)
}

var (
	configItem     = storage.NewItem[Config]("config")
	stateItem      = storage.NewItem[State]("state")
	snapshotHeight = storage.NewItem[uint64]("snapshot-height")
	snapshots      = storage.NewBucket[ReserveSnapshot]("reserve-snapshot")
)

func spotPrice(cfg Config, st State) (fixed.Uint, error) {
	return fixed.DivDec(st.QuoteAssetReserve, st.BaseAssetReserve, cfg.Decimals)
}

// =============================================================================
// 快照
// =============================================================================

func loadSnapshotHeight(s storage.KVStore) (uint64, error) {
	h, err := snapshotHeight.MayLoad(s)
	if err != nil || h == nil {
		return 0, err
	}
	return *h, nil
}

func loadSnapshot(s storage.KVStore, idx uint64) (ReserveSnapshot, error) {
	return snapshots.Load(s, storage.U64Key(idx))
}

// latestSnapshot 返回最新快照及其序号 (序号从 1 开始)
func latestSnapshot(s storage.KVStore) (ReserveSnapshot, uint64, error) {
	h, err := loadSnapshotHeight(s)
	if err != nil {
		return ReserveSnapshot{}, 0, err
	}
	if h == 0 {
		return ReserveSnapshot{}, 0, storage.ErrNotFound
	}
	snap, err := loadSnapshot(s, h)
	return snap, h, err
}

// saveSnapshot 当前区块已有快照则覆盖，否则追加
func saveSnapshot(ctx chain.Context, st State) error {
	snap := ReserveSnapshot{
		QuoteAssetReserve: st.QuoteAssetReserve,
		BaseAssetReserve:  st.BaseAssetReserve,
		Timestamp:         ctx.Env.Block.Time,
		BlockHeight:       ctx.Env.Block.Height,
	}
	h, err := loadSnapshotHeight(ctx.Store)
	if err != nil {
		return err
	}
	if h > 0 {
		latest, err := loadSnapshot(ctx.Store, h)
		if err != nil {
			return err
		}
		if latest.BlockHeight == snap.BlockHeight {
			return snapshots.Save(ctx.Store, storage.U64Key(h), snap)
		}
	}
	h++
	if err := snapshots.Save(ctx.Store, storage.U64Key(h), snap); err != nil {
		return err
	}
	return snapshotHeight.Save(ctx.Store, h)
}

// priorBlockSnapshot 当前区块之前的最后一个快照 (波动限制的基准)
func priorBlockSnapshot(ctx chain.Context) (ReserveSnapshot, error) {
	latest, h, err := latestSnapshot(ctx.Store)
	if err != nil {
		return ReserveSnapshot{}, err
	}
	if latest.BlockHeight == ctx.Env.Block.Height && h > 1 {
		return loadSnapshot(ctx.Store, h-1)
	}
	return latest, nil
}
