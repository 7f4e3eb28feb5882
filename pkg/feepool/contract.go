// 文件: pkg/feepool/contract.go
// 手续费池: 收 toll 手续费，owner 可以把余额转出

package feepool

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/storage"
	"vperp.com/pkg/token"
)

// TokenLimit 白名单上限
const TokenLimit = 3

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrTokenLimit    = errors.New("token limit reached")
	ErrTokenExists   = errors.New("token already added")
	ErrTokenNotFound = errors.New("token not found")
	ErrEmptyBalance  = errors.New("fee pool has no balance of token")
)

type InstantiateMsg struct{}

type UpdateOwner struct{ Owner string }

type AddToken struct{ Token token.AssetInfo }

type RemoveToken struct{ Token token.AssetInfo }

// SendToken 转出 min(Amount, 余额)
type SendToken struct {
	Token     token.AssetInfo
	Amount    fixed.Uint
	Recipient string
}

type ConfigQuery struct{}

type IsToken struct{ Token token.AssetInfo }

type GetTokenList struct{ Limit int }

type GetTokenLength struct{}

type Config struct {
	Owner string `json:"owner"`
}

var (
	configItem = storage.NewItem[Config]("config")
	tokenList  = storage.NewItem[[]token.AssetInfo]("token-list")
)

type Contract struct{}

func New() *Contract { return &Contract{} }

func (c *Contract) Instantiate(ctx chain.Context, info chain.MessageInfo, _ any) (*chain.Response, error) {
	if err := configItem.Save(ctx.Store, Config{Owner: info.Sender}); err != nil {
		return nil, err
	}
	if err := tokenList.Save(ctx.Store, []token.AssetInfo{}); err != nil {
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
	list, err := tokenList.Load(ctx.Store)
	if err != nil {
		return nil, err
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

	case AddToken:
		if err := m.Token.Validate(); err != nil {
			return nil, err
		}
		if indexOf(list, m.Token) >= 0 {
			return nil, fmt.Errorf("%w: %s", ErrTokenExists, m.Token)
		}
		if len(list) >= TokenLimit {
			return nil, ErrTokenLimit
		}
		if err := tokenList.Save(ctx.Store, append(list, m.Token)); err != nil {
			return nil, err
		}
		return chain.NewResponse().AddAttributes("action", "add_token", "token", m.Token.String()), nil

	case RemoveToken:
		i := indexOf(list, m.Token)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, m.Token)
		}
		list = append(list[:i], list[i+1:]...)
		if err := tokenList.Save(ctx.Store, list); err != nil {
			return nil, err
		}
		return chain.NewResponse().AddAttributes("action", "remove_token", "token", m.Token.String()), nil

	case SendToken:
		if indexOf(list, m.Token) < 0 {
			return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, m.Token)
		}
		if err := chain.ValidateAddress(m.Recipient); err != nil {
			return nil, err
		}
		bal, err := m.Token.Balance(ctx.Querier, ctx.Env.Contract)
		if err != nil {
			return nil, err
		}
		amount := fixed.Min(m.Amount, bal)
		if amount.IsZero() {
			return nil, ErrEmptyBalance
		}
		ctx.Logger.Info("fee pool transfer",
			zap.String("token", m.Token.String()),
			zap.String("recipient", m.Recipient),
			zap.String("amount", amount.String()))
		return chain.NewResponse().
			AddAttributes("action", "send_token", "recipient", m.Recipient, "amount", amount.String()).
			AddMessage(m.Token.TransferMsg(m.Recipient, amount)), nil
	}
	return nil, fmt.Errorf("%w: %T", chain.ErrUnknownMessage, msg)
}

func (c *Contract) Query(ctx chain.Context, req any) (any, error) {
	if _, ok := req.(ConfigQuery); ok {
		return configItem.Load(ctx.Store)
	}
	list, err := tokenList.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	switch q := req.(type) {
	case IsToken:
		return indexOf(list, q.Token) >= 0, nil
	case GetTokenList:
		if q.Limit > 0 && q.Limit < len(list) {
			return list[:q.Limit], nil
		}
		return list, nil
	case GetTokenLength:
		return len(list), nil
	}
	return nil, fmt.Errorf("%w: %T", chain.ErrUnknownQuery, req)
}

func indexOf(list []token.AssetInfo, t token.AssetInfo) int {
	for i, v := range list {
		if v.Equal(t) {
			return i
		}
	}
	return -1
}
