// 文件: pkg/insurance/contract.go
// 保险基金合约
//
// 【核心作用】
// 用户穿仓 (亏损 > 保证金) 时由保险基金兜底，保证盈利方足额拿到收益
//
// 【资金来源】
// 1. 开平仓的 spread 手续费
// 2. 强平手续费的一半
// 3. 平台注资
//
// 【职责】
// - vAMM 注册表 (上限 3 个)
// - 按保证金引擎的请求划转抵押品 (Withdraw)
// - 紧急情况下一次性关闭所有 vAMM (ShutdownVamms)

package insurance

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/storage"
	"vperp.com/pkg/token"
	"vperp.com/pkg/vamm"
)

// VammLimit 注册表上限
const VammLimit = 3

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrVammLimit        = errors.New("vamm limit reached")
	ErrVammExists       = errors.New("vamm already registered")
	ErrVammNotFound     = errors.New("vamm not registered")
	ErrDecimalsMismatch = errors.New("vamm decimals do not match engine decimals")
	ErrEngineNotSet     = errors.New("engine not set")
	ErrZeroAmount       = errors.New("amount is zero")
)

// =============================================================================
// 消息
// =============================================================================

type InstantiateMsg struct {
	Engine string // 可以之后用 SetEngine 设置
}

type UpdateOwner struct{ Owner string }

type SetEngine struct{ Engine string }

type AddVamm struct{ Vamm string }

type RemoveVamm struct{ Vamm string }

// Withdraw 保证金引擎提取抵押品 (坏账兜底)
type Withdraw struct {
	Token  token.AssetInfo
	Amount fixed.Uint
}

type ShutdownVamms struct{}

type ConfigQuery struct{}

type IsVamm struct{ Vamm string }

type GetAllVamm struct{ Limit int }

type GetAllVammStatus struct{ Limit int }

type GetVammStatus struct{ Vamm string }

type GetTokenBalance struct{ Token token.AssetInfo }

type Config struct {
	Owner  string `json:"owner"`
	Engine string `json:"engine"`
}

type VammStatus struct {
	Vamm string `json:"vamm"`
	Open bool   `json:"open"`
}

var (
	configItem = storage.NewItem[Config]("config")
	vammList   = storage.NewItem[[]string]("vamm-list")
)

// =============================================================================
// Contract
// =============================================================================

type Contract struct{}

func New() *Contract { return &Contract{} }

func (c *Contract) Instantiate(ctx chain.Context, info chain.MessageInfo, msg any) (*chain.Response, error) {
	m, _ := msg.(InstantiateMsg)
	if m.Engine != "" {
		if err := chain.ValidateAddress(m.Engine); err != nil {
			return nil, err
		}
	}
	if err := configItem.Save(ctx.Store, Config{Owner: info.Sender, Engine: m.Engine}); err != nil {
		return nil, err
	}
	if err := vammList.Save(ctx.Store, []string{}); err != nil {
		return nil, err
	}
	return chain.NewResponse().AddAttribute("action", "instantiate"), nil
}

func (c *Contract) Execute(ctx chain.Context, info chain.MessageInfo, msg any) (*chain.Response, error) {
	cfg, err := configItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}

	switch m := msg.(type) {
	case Withdraw:
		if cfg.Engine == "" {
			return nil, ErrEngineNotSet
		}
		if info.Sender != cfg.Engine {
			return nil, ErrUnauthorized
		}
		return c.withdraw(ctx, cfg, m)
	case ShutdownVamms:
		if info.Sender != cfg.Owner && info.Sender != ctx.Env.Contract {
			return nil, ErrUnauthorized
		}
		return c.shutdown(ctx)
	}

	if info.Sender != cfg.Owner {
		return nil, ErrUnauthorized
	}
	switch m := msg.(type) {
	case UpdateOwner:
		if err := chain.ValidateAddress(m.Owner); err != nil {
			return nil, err
		}
		cfg.Owner = m.Owner
		if err := configItem.Save(ctx.Store, cfg); err != nil {
			return nil, err
		}
		return chain.NewResponse().AddAttributes("action", "update_owner", "owner", m.Owner), nil
	case SetEngine:
		if err := chain.ValidateAddress(m.Engine); err != nil {
			return nil, err
		}
		cfg.Engine = m.Engine
		if err := configItem.Save(ctx.Store, cfg); err != nil {
			return nil, err
		}
		return chain.NewResponse().AddAttributes("action", "set_engine", "engine", m.Engine), nil
	case AddVamm:
		return c.addVamm(ctx, cfg, m.Vamm)
	case RemoveVamm:
		return c.removeVamm(ctx, m.Vamm)
	}
	return nil, fmt.Errorf("%w: %T", chain.ErrUnknownMessage, msg)
}

func (c *Contract) addVamm(ctx chain.Context, cfg Config, addr string) (*chain.Response, error) {
	if err := chain.ValidateAddress(addr); err != nil {
		return nil, err
	}
	if cfg.Engine == "" {
		return nil, ErrEngineNotSet
	}
	list, err := vammList.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	for _, v := range list {
		if v == addr {
			return nil, fmt.Errorf("%w: %s", ErrVammExists, addr)
		}
	}
	if len(list) >= VammLimit {
		return nil, ErrVammLimit
	}

	vammDecimals, err := chain.Query[fixed.Uint](ctx.Querier, addr, token.DecimalsQuery{})
	if err != nil {
		return nil, err
	}
	engineDecimals, err := chain.Query[fixed.Uint](ctx.Querier, cfg.Engine, token.DecimalsQuery{})
	if err != nil {
		return nil, err
	}
	if !vammDecimals.Eq(engineDecimals) {
		return nil, fmt.Errorf("%w: vamm %s, engine %s", ErrDecimalsMismatch, vammDecimals, engineDecimals)
	}

	list = append(list, addr)
	if err := vammList.Save(ctx.Store, list); err != nil {
		return nil, err
	}
	ctx.Logger.Info("vamm registered", zap.String("vamm", addr), zap.Int("count", len(list)))
	return chain.NewResponse().AddAttributes("action", "add_vamm", "vamm", addr), nil
}

func (c *Contract) removeVamm(ctx chain.Context, addr string) (*chain.Response, error) {
	list, err := vammList.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	out := list[:0]
	found := false
	for _, v := range list {
		if v == addr {
			found = true
			continue
		}
		out = append(out, v)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrVammNotFound, addr)
	}
	if err := vammList.Save(ctx.Store, out); err != nil {
		return nil, err
	}
	return chain.NewResponse().AddAttributes("action", "remove_vamm", "vamm", addr), nil
}

func (c *Contract) withdraw(ctx chain.Context, cfg Config, m Withdraw) (*chain.Response, error) {
	if m.Amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if err := m.Token.Validate(); err != nil {
		return nil, err
	}
	ctx.Logger.Warn("insurance fund withdrawal",
		zap.String("token", m.Token.String()),
		zap.String("amount", m.Amount.String()))
	return chain.NewResponse().
		AddAttributes("action", "insurance_withdraw", "amount", m.Amount.String()).
		AddMessage(m.Token.TransferMsg(cfg.Engine, m.Amount)), nil
}

func (c *Contract) shutdown(ctx chain.Context) (*chain.Response, error) {
	list, err := vammList.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	res := chain.NewResponse().AddAttribute("action", "vamm_shutdown")
	for _, v := range list {
		res.AddMessage(chain.ExecuteMsg{Contract: v, Msg: vamm.SetOpen{Open: false}})
	}
	ctx.Logger.Warn("shutting down all vamms", zap.Strings("vamms", list))
	return res, nil
}

// =============================================================================
// 查询
// =============================================================================

func (c *Contract) Query(ctx chain.Context, req any) (any, error) {
	switch q := req.(type) {
	case ConfigQuery:
		return configItem.Load(ctx.Store)
	case IsVamm:
		list, err := vammList.Load(ctx.Store)
		if err != nil {
			return nil, err
		}
		for _, v := range list {
			if v == q.Vamm {
				return true, nil
			}
		}
		return false, nil
	case GetAllVamm:
		list, err := vammList.Load(ctx.Store)
		if err != nil {
			return nil, err
		}
		return limitList(list, q.Limit), nil
	case GetAllVammStatus:
		list, err := vammList.Load(ctx.Store)
		if err != nil {
			return nil, err
		}
		out := make([]VammStatus, 0, len(list))
		for _, v := range limitList(list, q.Limit) {
			open, err := vammOpen(ctx, v)
			if err != nil {
				return nil, err
			}
			out = append(out, VammStatus{Vamm: v, Open: open})
		}
		return out, nil
	case GetVammStatus:
		return vammOpen(ctx, q.Vamm)
	case GetTokenBalance:
		return q.Token.Balance(ctx.Querier, ctx.Env.Contract)
	}
	return nil, fmt.Errorf("%w: %T", chain.ErrUnknownQuery, req)
}

func vammOpen(ctx chain.Context, addr string) (bool, error) {
	st, err := chain.Query[vamm.State](ctx.Querier, addr, vamm.StateQuery{})
	if err != nil {
		return false, err
	}
	return st.Open, nil
}

func limitList(list []string, limit int) []string {
	if limit <= 0 || limit > len(list) {
		return list
	}
	return list[:limit]
}
