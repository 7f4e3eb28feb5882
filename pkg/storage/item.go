// 文件: pkg/storage/item.go
// 类型化存储助手
//
// - Item[T]: 单例 key (config / state / tmp-swap ...)
// - Bucket[T]: 同一前缀下的一组记录 (position / vamm-map ...)
// 值统一用 JSON 编码

package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb/util"
)

// Item 单例存储
type Item[T any] struct {
	key []byte
}

func NewItem[T any](key string) Item[T] {
	return Item[T]{key: []byte(key)}
}

// Load 不存在时返回 ErrNotFound
func (i Item[T]) Load(s KVStore) (T, error) {
	var v T
	raw, err := s.Get(i.key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", i.key, err)
	}
	return v, nil
}

// MayLoad 不存在时返回 (nil, nil)
func (i Item[T]) MayLoad(s KVStore) (*T, error) {
	v, err := i.Load(s)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func (i Item[T]) Save(s KVStore, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", i.key, err)
	}
	return s.Put(i.key, raw)
}

func (i Item[T]) Remove(s KVStore) error { return s.Delete(i.key) }

func (i Item[T]) Exists(s KVStore) (bool, error) { return s.Has(i.key) }

// Bucket 前缀分组存储
type Bucket[T any] struct {
	prefix []byte
}

// NewBucket 前缀会自动追加 "/" 分隔符
func NewBucket[T any](name string) Bucket[T] {
	return Bucket[T]{prefix: []byte(name + "/")}
}

func (b Bucket[T]) key(k []byte) []byte {
	out := make([]byte, 0, len(b.prefix)+len(k))
	out = append(out, b.prefix...)
	return append(out, k...)
}

func (b Bucket[T]) Load(s KVStore, k []byte) (T, error) {
	var v T
	raw, err := s.Get(b.key(k))
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s%x: %w", b.prefix, k, err)
	}
	return v, nil
}

func (b Bucket[T]) MayLoad(s KVStore, k []byte) (*T, error) {
	v, err := b.Load(s, k)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func (b Bucket[T]) Save(s KVStore, k []byte, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(b.key(k), raw)
}

func (b Bucket[T]) Remove(s KVStore, k []byte) error { return s.Delete(b.key(k)) }

func (b Bucket[T]) Has(s KVStore, k []byte) (bool, error) { return s.Has(b.key(k)) }

// Range 按 key 顺序遍历 sub 前缀下的记录
// startAfter 非空时从它之后开始 (分页)，limit<=0 表示不限制
// fn 返回 false 提前结束
func (b Bucket[T]) Range(s KVStore, sub, startAfter []byte, limit int, reverse bool, fn func(k []byte, v T) bool) error {
	r := util.BytesPrefix(b.key(sub))
	if startAfter != nil {
		bound := append(b.key(sub), startAfter...)
		if reverse {
			r.Limit = bound
		} else {
			r.Start = append(bound, 0x00)
		}
	}

	it := s.Iterate(r, reverse)
	defer it.Release()

	n := 0
	for it.Next() {
		var v T
		if err := json.Unmarshal(it.Value(), &v); err != nil {
			return fmt.Errorf("decode %x: %w", it.Key(), err)
		}
		n++
		if !fn(it.Key()[len(b.prefix):], v) {
			break
		}
		if limit > 0 && n >= limit {
			break
		}
	}
	return it.Error()
}
