// 文件: pkg/storage/level.go
// LevelDB 持久化存储 (开发链 run 模式使用)

package storage

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var _ KVStore = (*LevelStore)(nil)

// LevelStore LevelDB 存储
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore 打开或创建 path 下的数据库
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{NoSync: false})
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		if errors.Is(err, leveldb.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return v, nil
}

func (s *LevelStore) Has(key []byte) (bool, error) {
	return s.db.Has(key, nil)
}

func (s *LevelStore) Put(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *LevelStore) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

func (s *LevelStore) Iterate(r *util.Range, reverse bool) Iterator {
	return newLevelIterator(s.db.NewIterator(r, nil), reverse)
}

// WriteBatch 原子写入一批修改
func (s *LevelStore) WriteBatch(fn func(b Batch)) error {
	batch := new(leveldb.Batch)
	fn(batch)
	return s.db.Write(batch, &opt.WriteOptions{Sync: true})
}

// Close 关闭数据库
func (s *LevelStore) Close() error {
	return s.db.Close()
}
