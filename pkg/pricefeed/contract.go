// 文件: pkg/pricefeed/contract.go
// 预言机价格合约
//
// 每个资产 key 一串递增的轮次 (round)，owner 喂价。
// vAMM 通过 Client 读最新价、历史价和 TWAP 计算资金费率和价差保护

package pricefeed

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/storage"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrPriceNotFound    = errors.New("price not found")
	ErrInvalidPrice     = errors.New("price must be positive")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrLengthMismatch   = errors.New("prices and timestamps length mismatch")
)

// =============================================================================
// 消息
// =============================================================================

type InstantiateMsg struct {
	OracleHubContract string
}

// AppendPrice 追加一轮价格
type AppendPrice struct {
	Key       string
	Price     fixed.Uint
	Timestamp uint64
}

type AppendMultiplePrice struct {
	Key        string
	Prices     []fixed.Uint
	Timestamps []uint64
}

type UpdateOwner struct{ Owner string }

type ConfigQuery struct{}

type GetPrice struct{ Key string }

type GetPreviousPrice struct {
	Key          string
	NumRoundBack uint64
}

type GetTwapPrice struct {
	Key      string
	Interval uint64
}

type ConfigResponse struct {
	Owner             string `json:"owner"`
	OracleHubContract string `json:"oracle_hub_contract,omitempty"`
}

// PriceResponse 单轮价格
type PriceResponse struct {
	Price     fixed.Uint `json:"price"`
	Timestamp uint64     `json:"timestamp"`
	Round     uint64     `json:"round"`
}

// =============================================================================
// 存储
// =============================================================================

type round struct {
	Price     fixed.Uint `json:"price"`
	Timestamp uint64     `json:"timestamp"`
}

var (
	configItem = storage.NewItem[ConfigResponse]("config")
	rounds     = storage.NewBucket[round]("price")
	lastRounds = storage.NewBucket[uint64]("last-round")
)

func roundKey(key string, id uint64) []byte {
	return append([]byte(key+"/"), storage.U64Key(id)...)
}

// Contract 预言机合约
type Contract struct{}

func New() *Contract { return &Contract{} }

func (c *Contract) Instantiate(ctx chain.Context, info chain.MessageInfo, msg any) (*chain.Response, error) {
	m, _ := msg.(InstantiateMsg)
	cfg := ConfigResponse{Owner: info.Sender, OracleHubContract: m.OracleHubContract}
	if err := configItem.Save(ctx.Store, cfg); err != nil {
		return nil, err
	}
	return chain.NewResponse().AddAttribute("action", "instantiate"), nil
}

func (c *Contract) Execute(ctx chain.Context, info chain.MessageInfo, msg any) (*chain.Response, error) {
	cfg, err := configItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	if info.Sender != cfg.Owner {
		return nil, ErrUnauthorized
	}

	switch m := msg.(type) {
	case AppendPrice:
		if err := appendPrice(ctx, m.Key, m.Price, m.Timestamp); err != nil {
			return nil, err
		}
		return chain.NewResponse().AddAttributes("action", "append_price", "key", m.Key, "price", m.Price.String()), nil

	case AppendMultiplePrice:
		if len(m.Prices) != len(m.Timestamps) {
			return nil, ErrLengthMismatch
		}
		for i := range m.Prices {
			if err := appendPrice(ctx, m.Key, m.Prices[i], m.Timestamps[i]); err != nil {
				return nil, err
			}
		}
		return chain.NewResponse().AddAttributes("action", "append_multiple_price", "key", m.Key, "count", fmt.Sprint(len(m.Prices))), nil

	case UpdateOwner:
		if err := chain.ValidateAddress(m.Owner); err != nil {
			return nil, err
		}
		cfg.Owner = m.Owner
		if err := configItem.Save(ctx.Store, cfg); err != nil {
			return nil, err
		}
		return chain.NewResponse().AddAttributes("action", "update_owner", "owner", m.Owner), nil
	}
	return nil, fmt.Errorf("%w: %T", chain.ErrUnknownMessage, msg)
}

func appendPrice(ctx chain.Context, key string, price fixed.Uint, ts uint64) error {
	if price.IsZero() {
		return ErrInvalidPrice
	}
	if ts > ctx.Env.Block.Time {
		return fmt.Errorf("%w: %d is in the future", ErrInvalidTimestamp, ts)
	}
	last, err := lastRounds.MayLoad(ctx.Store, []byte(key))
	if err != nil {
		return err
	}
	var next uint64 = 1
	if last != nil {
		prev, err := rounds.Load(ctx.Store, roundKey(key, *last))
		if err != nil {
			return err
		}
		if ts <= prev.Timestamp {
			return fmt.Errorf("%w: %d not after round %d (%d)", ErrInvalidTimestamp, ts, *last, prev.Timestamp)
		}
		next = *last + 1
	}
	if err := rounds.Save(ctx.Store, roundKey(key, next), round{Price: price, Timestamp: ts}); err != nil {
		return err
	}
	ctx.Logger.Debug("price appended",
		zap.String("key", key),
		zap.Uint64("round", next),
		zap.String("price", price.String()))
	return lastRounds.Save(ctx.Store, []byte(key), next)
}

// =============================================================================
// 查询
// =============================================================================

func (c *Contract) Query(ctx chain.Context, req any) (any, error) {
	switch q := req.(type) {
	case ConfigQuery:
		return configItem.Load(ctx.Store)
	case GetPrice:
		return previousPrice(ctx.Store, q.Key, 0)
	case GetPreviousPrice:
		return previousPrice(ctx.Store, q.Key, q.NumRoundBack)
	case GetTwapPrice:
		return twapPrice(ctx, q.Key, q.Interval)
	}
	return nil, fmt.Errorf("%w: %T", chain.ErrUnknownQuery, req)
}

func latestRound(s storage.KVStore, key string) (uint64, error) {
	last, err := lastRounds.MayLoad(s, []byte(key))
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 0, fmt.Errorf("%w: %s", ErrPriceNotFound, key)
	}
	return *last, nil
}

func previousPrice(s storage.KVStore, key string, back uint64) (PriceResponse, error) {
	last, err := latestRound(s, key)
	if err != nil {
		return PriceResponse{}, err
	}
	if back >= last {
		return PriceResponse{}, fmt.Errorf("%w: %s has %d rounds", ErrPriceNotFound, key, last)
	}
	id := last - back
	r, err := rounds.Load(s, roundKey(key, id))
	if err != nil {
		return PriceResponse{}, err
	}
	return PriceResponse{Price: r.Price, Timestamp: r.Timestamp, Round: id}, nil
}

func twapPrice(ctx chain.Context, key string, interval uint64) (fixed.Uint, error) {
	last, err := latestRound(ctx.Store, key)
	if err != nil {
		return fixed.Zero(), err
	}
	latest, err := rounds.Load(ctx.Store, roundKey(key, last))
	if err != nil {
		return fixed.Zero(), err
	}
	id := last
	walker := func() (Observation, bool, error) {
		if id <= 1 {
			return Observation{}, false, nil
		}
		id--
		r, err := rounds.Load(ctx.Store, roundKey(key, id))
		if err != nil {
			return Observation{}, false, err
		}
		return Observation{Price: r.Price, Timestamp: r.Timestamp}, true, nil
	}
	return TWAP(ctx.Env.Block.Time, interval, Observation{Price: latest.Price, Timestamp: latest.Timestamp}, walker)
}
