// 文件: pkg/storage/cache.go
// 事务缓存层
//
// 【工作原理】
// - 写入只进入本层的 memdb (带墓碑标记)，读取先查本层再查父层
// - Write() 把本层修改按 key 顺序刷到父层 (父层支持 Batcher 时原子写入)
// - Discard() 直接丢弃，父层不受影响
// - 可以嵌套: 子调用失败只回滚子层
//
// 【面试】为什么要墓碑?
// 删除必须遮住父层的旧值，否则 Get/迭代会"复活"已删除的数据

package storage

import (
	"bytes"
	"errors"

	"github.com/syndtr/goleveldb/leveldb/comparer"
	"github.com/syndtr/goleveldb/leveldb/memdb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var _ KVStore = (*CacheStore)(nil)

const (
	markDeleted byte = 0
	markLive    byte = 1
)

// CacheStore 可提交 / 可丢弃的写缓存
type CacheStore struct {
	parent KVStore
	dirty  *memdb.DB
}

// NewCacheStore 在 parent 之上创建缓存层
func NewCacheStore(parent KVStore) *CacheStore {
	return &CacheStore{
		parent: parent,
		dirty:  memdb.New(comparer.DefaultComparer, 0),
	}
}

func (c *CacheStore) Get(key []byte) ([]byte, error) {
	if v, err := c.dirty.Get(key); err == nil {
		if v[0] == markDeleted {
			return nil, ErrNotFound
		}
		return copyBytes(v[1:]), nil
	}
	return c.parent.Get(key)
}

func (c *CacheStore) Has(key []byte) (bool, error) {
	_, err := c.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (c *CacheStore) Put(key, value []byte) error {
	buf := make([]byte, len(value)+1)
	buf[0] = markLive
	copy(buf[1:], value)
	return c.dirty.Put(key, buf)
}

func (c *CacheStore) Delete(key []byte) error {
	return c.dirty.Put(key, []byte{markDeleted})
}

// Write 把修改刷到父层并清空本层
func (c *CacheStore) Write() error {
	apply := func(b Batch) {
		it := c.dirty.NewIterator(nil)
		defer it.Release()
		for it.Next() {
			v := it.Value()
			if v[0] == markDeleted {
				b.Delete(copyBytes(it.Key()))
			} else {
				b.Put(copyBytes(it.Key()), copyBytes(v[1:]))
			}
		}
	}

	var err error
	if batcher, ok := c.parent.(Batcher); ok {
		err = batcher.WriteBatch(apply)
	} else {
		sb := &sequentialBatch{store: c.parent}
		apply(sb)
		err = sb.err
	}
	if err != nil {
		return err
	}
	c.dirty.Reset()
	return nil
}

// Discard 丢弃所有未提交的修改
func (c *CacheStore) Discard() {
	c.dirty.Reset()
}

// Dirty 未提交的 key 数量
func (c *CacheStore) Dirty() int { return c.dirty.Len() }

func (c *CacheStore) Iterate(r *util.Range, reverse bool) Iterator {
	return &mergeIterator{
		parent:  &peekIterator{it: c.parent.Iterate(r, reverse)},
		cache:   &peekIterator{it: newLevelIterator(c.dirty.NewIterator(r), reverse)},
		reverse: reverse,
	}
}

type sequentialBatch struct {
	store KVStore
	err   error
}

func (s *sequentialBatch) Put(key, value []byte) {
	if s.err == nil {
		s.err = s.store.Put(key, value)
	}
}

func (s *sequentialBatch) Delete(key []byte) {
	if s.err == nil {
		s.err = s.store.Delete(key)
	}
}

// =============================================================================
// 合并迭代器: 缓存层优先，墓碑跳过
// =============================================================================

type peekIterator struct {
	it     Iterator
	loaded bool
	valid  bool
	key    []byte
	value  []byte
}

func (p *peekIterator) peek() ([]byte, bool) {
	if !p.loaded {
		p.loaded = true
		p.valid = p.it.Next()
		if p.valid {
			p.key, p.value = p.it.Key(), p.it.Value()
		}
	}
	return p.key, p.valid
}

func (p *peekIterator) advance() { p.loaded = false }

type mergeIterator struct {
	parent, cache *peekIterator
	reverse       bool
	key, value    []byte
}

// before 按迭代方向判断 a 是否在 b 之前
func (m *mergeIterator) before(a, b []byte) bool {
	if m.reverse {
		return bytes.Compare(a, b) > 0
	}
	return bytes.Compare(a, b) < 0
}

func (m *mergeIterator) Next() bool {
	for {
		pk, pok := m.parent.peek()
		ck, cok := m.cache.peek()
		switch {
		case !pok && !cok:
			return false
		case cok && (!pok || !m.before(pk, ck)):
			// 缓存层的 key 在前，或与父层相同 (缓存遮盖父层)
			if pok && bytes.Equal(pk, ck) {
				m.parent.advance()
			}
			v := m.cache.value
			m.cache.advance()
			// cache 层的 value 带标记字节
			if len(v) == 0 || v[0] == markDeleted {
				continue
			}
			m.key, m.value = ck, v[1:]
			return true
		default:
			m.key, m.value = pk, m.parent.value
			m.parent.advance()
			return true
		}
	}
}

func (m *mergeIterator) Key() []byte   { return m.key }
func (m *mergeIterator) Value() []byte { return m.value }

func (m *mergeIterator) Error() error {
	if err := m.parent.it.Error(); err != nil {
		return err
	}
	return m.cache.it.Error()
}

func (m *mergeIterator) Release() {
	m.parent.it.Release()
	m.cache.it.Release()
}
