// 文件: pkg/storage/mem.go
// 内存 KV (基于 goleveldb/memdb 跳表，天然有序、并发安全)

package storage

import (
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb/comparer"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/memdb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var _ KVStore = (*MemStore)(nil)

// MemStore 内存存储
type MemStore struct {
	mu sync.Mutex // 保护批量写入的原子性
	db *memdb.DB
}

// NewMemStore 创建内存存储
func NewMemStore() *MemStore {
	return &MemStore{db: memdb.New(comparer.DefaultComparer, 0)}
}

func (s *MemStore) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, memdb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return copyBytes(v), nil
}

func (s *MemStore) Has(key []byte) (bool, error) {
	return s.db.Contains(key), nil
}

func (s *MemStore) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(key, value)
}

func (s *MemStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Delete(key); err != nil && !errors.Is(err, memdb.ErrNotFound) {
		return err
	}
	return nil
}

func (s *MemStore) Iterate(r *util.Range, reverse bool) Iterator {
	return newLevelIterator(s.db.NewIterator(r), reverse)
}

// WriteBatch 在同一把锁内应用整批写入
func (s *MemStore) WriteBatch(fn func(b Batch)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := &memBatch{db: s.db}
	fn(b)
	return b.err
}

// Len key 数量
func (s *MemStore) Len() int { return s.db.Len() }

type memBatch struct {
	db  *memdb.DB
	err error
}

func (b *memBatch) Put(key, value []byte) {
	if b.err == nil {
		b.err = b.db.Put(key, value)
	}
}

func (b *memBatch) Delete(key []byte) {
	if b.err != nil {
		return
	}
	if err := b.db.Delete(key); err != nil && !errors.Is(err, memdb.ErrNotFound) {
		b.err = err
	}
}

// =============================================================================
// goleveldb 迭代器适配
// =============================================================================

// levelIterator 把 goleveldb 的双向迭代器包装成单向 Iterator
type levelIterator struct {
	it      iterator.Iterator
	reverse bool
	started bool
}

func newLevelIterator(it iterator.Iterator, reverse bool) *levelIterator {
	return &levelIterator{it: it, reverse: reverse}
}

func (l *levelIterator) Next() bool {
	if !l.started {
		l.started = true
		if l.reverse {
			return l.it.Last()
		}
		return l.it.First()
	}
	if l.reverse {
		return l.it.Prev()
	}
	return l.it.Next()
}

func (l *levelIterator) Key() []byte   { return copyBytes(l.it.Key()) }
func (l *levelIterator) Value() []byte { return copyBytes(l.it.Value()) }
func (l *levelIterator) Error() error  { return l.it.Error() }
func (l *levelIterator) Release()      { l.it.Release() }
