// 文件: pkg/chain/contract.go
// 合约接口与执行上下文

package chain

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vperp.com/pkg/fixed"
	"vperp.com/pkg/storage"
)

var (
	ErrContractNotFound   = errors.New("contract not found")
	ErrContractExists     = errors.New("contract already registered")
	ErrNoReplyHandler     = errors.New("contract does not handle replies")
	ErrUnknownMessage     = errors.New("unknown message")
	ErrUnknownQuery       = errors.New("unknown query")
	ErrUnexpectedResponse = errors.New("unexpected query response")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrMaxCallDepth       = errors.New("max call depth exceeded")
	ErrInvalidAddress     = errors.New("invalid address")
)

// Context 合约执行上下文
//
// Store 已经按合约地址加了前缀，合约只能读写自己的状态
type Context struct {
	Env     Env
	Store   storage.KVStore
	Querier Querier
	Logger  *zap.Logger
}

// Contract 合约
type Contract interface {
	Instantiate(ctx Context, info MessageInfo, msg any) (*Response, error)
	Execute(ctx Context, info MessageInfo, msg any) (*Response, error)
	Query(ctx Context, req any) (any, error)
}

// Replier 处理子消息回调的合约
type Replier interface {
	Reply(ctx Context, reply Reply) (*Response, error)
}

// Querier 合约在执行中查询其他合约 / 余额
type Querier interface {
	QueryContract(addr string, req any) (any, error)
	QueryBalance(addr, denom string) (fixed.Uint, error)
}

// Query 类型化查询
func Query[T any](q Querier, addr string, req any) (T, error) {
	var zero T
	res, err := q.QueryContract(addr, req)
	if err != nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T from %s", ErrUnexpectedResponse, res, addr)
	}
	return v, nil
}

// ValidateAddress 地址不能为空且不能含 '/' (会破坏存储前缀)
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	for _, c := range addr {
		if c == '/' || c == ' ' {
			return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
		}
	}
	return nil
}

// FindAttribute 在事件中按合约地址 + key 查找属性 (取最后一次出现)
func FindAttribute(events []Event, contract, key string) (string, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if addr, ok := ev.Get("_contract_address"); !ok || addr != contract {
			continue
		}
		if v, ok := ev.Get(key); ok {
			return v, true
		}
	}
	return "", false
}
