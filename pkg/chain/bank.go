// 文件: pkg/chain/bank.go
// 原生币账本
//
// 余额和合约状态放在同一个根存储里 (前缀 bank/)，
// 所以转账和合约状态一起提交或一起回滚。

package chain

import (
	"errors"
	"fmt"

	"vperp.com/pkg/fixed"
	"vperp.com/pkg/storage"
)

const bankPrefix = "bank/"

func balanceKey(addr, denom string) []byte {
	return []byte(bankPrefix + addr + "/" + denom)
}

func bankBalance(store storage.KVStore, addr, denom string) (fixed.Uint, error) {
	raw, err := store.Get(balanceKey(addr, denom))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fixed.Zero(), nil
		}
		return fixed.Zero(), err
	}
	return fixed.ParseUint(string(raw))
}

func setBankBalance(store storage.KVStore, addr, denom string, amount fixed.Uint) error {
	if amount.IsZero() {
		return store.Delete(balanceKey(addr, denom))
	}
	return store.Put(balanceKey(addr, denom), []byte(amount.String()))
}

func bankSend(store storage.KVStore, from, to string, coins []Coin) error {
	for _, c := range coins {
		if c.Amount.IsZero() {
			continue
		}
		fromBal, err := bankBalance(store, from, c.Denom)
		if err != nil {
			return err
		}
		if fromBal.Lt(c.Amount) {
			return fmt.Errorf("%w: %s has %s%s, needs %s%s", ErrInsufficientFunds, from, fromBal, c.Denom, c.Amount, c.Denom)
		}
		toBal, err := bankBalance(store, to, c.Denom)
		if err != nil {
			return err
		}
		newTo, err := toBal.Add(c.Amount)
		if err != nil {
			return err
		}
		newFrom, _ := fromBal.Sub(c.Amount)
		if err := setBankBalance(store, from, c.Denom, newFrom); err != nil {
			return err
		}
		if err := setBankBalance(store, to, c.Denom, newTo); err != nil {
			return err
		}
	}
	return nil
}

func bankMint(store storage.KVStore, to string, coins []Coin) error {
	for _, c := range coins {
		bal, err := bankBalance(store, to, c.Denom)
		if err != nil {
			return err
		}
		bal, err = bal.Add(c.Amount)
		if err != nil {
			return err
		}
		if err := setBankBalance(store, to, c.Denom, bal); err != nil {
			return err
		}
	}
	return nil
}

func coinsString(coins []Coin) string {
	s := ""
	for i, c := range coins {
		if i > 0 {
			s += ","
		}
		s += c.Amount.String() + c.Denom
	}
	return s
}
