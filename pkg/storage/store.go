// 文件: pkg/storage/store.go
// 账本 KV 存储抽象
//
// 【设计】
// - 所有合约状态都落在有序 KV 上 (key 按字节序排列)
// - 内存实现 (memdb) 用于测试和开发链，LevelDB 实现用于持久化
// - CacheStore 叠加在任意 KVStore 之上，提供 "要么全部提交、要么全部丢弃" 的事务语义

package storage

import (
	"encoding/binary"
	"errors"

	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	ErrNotFound = errors.New("storage: key not found")
	ErrClosed   = errors.New("storage: store closed")
)

// KVStore 有序 KV 存储
type KVStore interface {
	// Get 不存在时返回 ErrNotFound
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error

	// Iterate 遍历 [r.Start, r.Limit)，r 为 nil 表示全量
	// reverse=true 时按 key 降序
	Iterate(r *util.Range, reverse bool) Iterator
}

// Iterator 单向迭代器
//
// 用法:
//
//	it := store.Iterate(util.BytesPrefix(p), false)
//	defer it.Release()
//	for it.Next() { ... }
//	if err := it.Error(); err != nil { ... }
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

// Batch 批量写入 (底层支持原子批量写时使用)
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
}

// Batcher 支持原子批量写入的存储
type Batcher interface {
	WriteBatch(fn func(b Batch)) error
}

// PrefixRange 返回以 prefix 开头的所有 key 的范围
func PrefixRange(prefix []byte) *util.Range {
	return util.BytesPrefix(prefix)
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// U64Key 大端编码，保证数值顺序 == 字节序
func U64Key(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

// ParseU64Key U64Key 的逆操作，长度不足 8 字节返回 0
func ParseU64Key(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b[len(b)-8:])
}
