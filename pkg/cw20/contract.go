// 文件: pkg/cw20/contract.go
// cw20 风格的合约币
//
// 余额 / 授权都落在合约自己的前缀存储里，随宿主交易一起提交或回滚

package cw20

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/storage"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidZeroAmount     = errors.New("invalid zero amount")
	ErrUnauthorized          = errors.New("unauthorized")
)

type tokenInfo struct {
	Name        string     `json:"name"`
	Symbol      string     `json:"symbol"`
	Decimals    uint8      `json:"decimals"`
	TotalSupply fixed.Uint `json:"total_supply"`
	Minter      string     `json:"minter"`
}

var (
	infoItem   = storage.NewItem[tokenInfo]("token-info")
	balances   = storage.NewBucket[fixed.Uint]("balance")
	allowances = storage.NewBucket[fixed.Uint]("allowance")
)

func allowanceKey(owner, spender string) []byte {
	return []byte(owner + "/" + spender)
}

// Contract cw20 合约
type Contract struct{}

func New() *Contract { return &Contract{} }

func (c *Contract) Instantiate(ctx chain.Context, _ chain.MessageInfo, msg any) (*chain.Response, error) {
	m, ok := msg.(InstantiateMsg)
	if !ok {
		return nil, fmt.Errorf("%w: %T", chain.ErrUnknownMessage, msg)
	}
	supply := fixed.Zero()
	for _, b := range m.InitialBalances {
		if err := chain.ValidateAddress(b.Address); err != nil {
			return nil, err
		}
		var err error
		if supply, err = supply.Add(b.Amount); err != nil {
			return nil, err
		}
		if err := credit(ctx.Store, b.Address, b.Amount); err != nil {
			return nil, err
		}
	}
	info := tokenInfo{Name: m.Name, Symbol: m.Symbol, Decimals: m.Decimals, TotalSupply: supply, Minter: m.Minter}
	if err := infoItem.Save(ctx.Store, info); err != nil {
		return nil, err
	}
	return chain.NewResponse().AddAttributes("action", "instantiate", "symbol", m.Symbol, "total_supply", supply.String()), nil
}

func (c *Contract) Execute(ctx chain.Context, info chain.MessageInfo, msg any) (*chain.Response, error) {
	switch m := msg.(type) {
	case Transfer:
		if err := move(ctx.Store, info.Sender, m.Recipient, m.Amount); err != nil {
			return nil, err
		}
		return chain.NewResponse().AddAttributes("action", "transfer", "from", info.Sender, "to", m.Recipient, "amount", m.Amount.String()), nil

	case TransferFrom:
		if err := spendAllowance(ctx.Store, m.Owner, info.Sender, m.Amount); err != nil {
			return nil, err
		}
		if err := move(ctx.Store, m.Owner, m.Recipient, m.Amount); err != nil {
			return nil, err
		}
		return chain.NewResponse().AddAttributes("action", "transfer_from", "from", m.Owner, "to", m.Recipient, "by", info.Sender, "amount", m.Amount.String()), nil

	case Send:
		if err := move(ctx.Store, info.Sender, m.Contract, m.Amount); err != nil {
			return nil, err
		}
		hook := chain.ExecuteMsg{Contract: m.Contract, Msg: ReceiveMsg{Sender: info.Sender, Amount: m.Amount, Msg: m.Msg}}
		return chain.NewResponse().
			AddAttributes("action", "send", "from", info.Sender, "to", m.Contract, "amount", m.Amount.String()).
			AddMessage(hook), nil

	case IncreaseAllowance:
		cur, err := allowance(ctx.Store, info.Sender, m.Spender)
		if err != nil {
			return nil, err
		}
		next, err := cur.Add(m.Amount)
		if err != nil {
			return nil, err
		}
		if err := allowances.Save(ctx.Store, allowanceKey(info.Sender, m.Spender), next); err != nil {
			return nil, err
		}
		return chain.NewResponse().AddAttributes("action", "increase_allowance", "owner", info.Sender, "spender", m.Spender, "amount", m.Amount.String()), nil

	case DecreaseAllowance:
		cur, err := allowance(ctx.Store, info.Sender, m.Spender)
		if err != nil {
			return nil, err
		}
		next := cur.SaturatingSub(m.Amount)
		if next.IsZero() {
			err = allowances.Remove(ctx.Store, allowanceKey(info.Sender, m.Spender))
		} else {
			err = allowances.Save(ctx.Store, allowanceKey(info.Sender, m.Spender), next)
		}
		if err != nil {
			return nil, err
		}
		return chain.NewResponse().AddAttributes("action", "decrease_allowance", "owner", info.Sender, "spender", m.Spender, "amount", m.Amount.String()), nil

	case Mint:
		ti, err := infoItem.Load(ctx.Store)
		if err != nil {
			return nil, err
		}
		if ti.Minter == "" || ti.Minter != info.Sender {
			return nil, ErrUnauthorized
		}
		if ti.TotalSupply, err = ti.TotalSupply.Add(m.Amount); err != nil {
			return nil, err
		}
		if err := credit(ctx.Store, m.Recipient, m.Amount); err != nil {
			return nil, err
		}
		if err := infoItem.Save(ctx.Store, ti); err != nil {
			return nil, err
		}
		return chain.NewResponse().AddAttributes("action", "mint", "to", m.Recipient, "amount", m.Amount.String()), nil

	case Burn:
		ti, err := infoItem.Load(ctx.Store)
		if err != nil {
			return nil, err
		}
		if err := debit(ctx.Store, info.Sender, m.Amount); err != nil {
			return nil, err
		}
		ti.TotalSupply = ti.TotalSupply.SaturatingSub(m.Amount)
		if err := infoItem.Save(ctx.Store, ti); err != nil {
			return nil, err
		}
		return chain.NewResponse().AddAttributes("action", "burn", "from", info.Sender, "amount", m.Amount.String()), nil
	}
	ctx.Logger.Debug("unknown cw20 message", zap.String("type", fmt.Sprintf("%T", msg)))
	return nil, fmt.Errorf("%w: %T", chain.ErrUnknownMessage, msg)
}

func (c *Contract) Query(ctx chain.Context, req any) (any, error) {
	switch q := req.(type) {
	case BalanceQuery:
		bal, err := balanceOf(ctx.Store, q.Address)
		if err != nil {
			return nil, err
		}
		return BalanceResponse{Balance: bal}, nil
	case TokenInfoQuery:
		ti, err := infoItem.Load(ctx.Store)
		if err != nil {
			return nil, err
		}
		return TokenInfoResponse{Name: ti.Name, Symbol: ti.Symbol, Decimals: ti.Decimals, TotalSupply: ti.TotalSupply}, nil
	case AllowanceQuery:
		a, err := allowance(ctx.Store, q.Owner, q.Spender)
		if err != nil {
			return nil, err
		}
		return AllowanceResponse{Allowance: a}, nil
	}
	return nil, fmt.Errorf("%w: %T", chain.ErrUnknownQuery, req)
}

// =============================================================================
// 账本
// =============================================================================

func balanceOf(s storage.KVStore, addr string) (fixed.Uint, error) {
	v, err := balances.MayLoad(s, []byte(addr))
	if err != nil || v == nil {
		return fixed.Zero(), err
	}
	return *v, nil
}

func allowance(s storage.KVStore, owner, spender string) (fixed.Uint, error) {
	v, err := allowances.MayLoad(s, allowanceKey(owner, spender))
	if err != nil || v == nil {
		return fixed.Zero(), err
	}
	return *v, nil
}

func credit(s storage.KVStore, addr string, amount fixed.Uint) error {
	bal, err := balanceOf(s, addr)
	if err != nil {
		return err
	}
	if bal, err = bal.Add(amount); err != nil {
		return err
	}
	return balances.Save(s, []byte(addr), bal)
}

func debit(s storage.KVStore, addr string, amount fixed.Uint) error {
	bal, err := balanceOf(s, addr)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, addr, bal, amount)
	}
	next, _ := bal.Sub(amount)
	if next.IsZero() {
		return balances.Remove(s, []byte(addr))
	}
	return balances.Save(s, []byte(addr), next)
}

func move(s storage.KVStore, from, to string, amount fixed.Uint) error {
	if amount.IsZero() {
		return ErrInvalidZeroAmount
	}
	if err := chain.ValidateAddress(to); err != nil {
		return err
	}
	if err := debit(s, from, amount); err != nil {
		return err
	}
	return credit(s, to, amount)
}

func spendAllowance(s storage.KVStore, owner, spender string, amount fixed.Uint) error {
	cur, err := allowance(s, owner, spender)
	if err != nil {
		return err
	}
	if cur.Lt(amount) {
		return fmt.Errorf("%w: %s allows %s %s, needs %s", ErrInsufficientAllowance, owner, spender, cur, amount)
	}
	next, _ := cur.Sub(amount)
	if next.IsZero() {
		return allowances.Remove(s, allowanceKey(owner, spender))
	}
	return allowances.Save(s, allowanceKey(owner, spender), next)
}
