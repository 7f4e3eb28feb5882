// 文件: pkg/storage/prefix.go
// 前缀命名空间: 每个合约只能看到自己前缀下的 key

package storage

import (
	"github.com/syndtr/goleveldb/leveldb/util"
)

var _ KVStore = (*PrefixStore)(nil)

// PrefixStore 给所有 key 加前缀
type PrefixStore struct {
	parent KVStore
	prefix []byte
}

func NewPrefixStore(parent KVStore, prefix []byte) *PrefixStore {
	return &PrefixStore{parent: parent, prefix: copyBytes(prefix)}
}

func (p *PrefixStore) key(k []byte) []byte {
	out := make([]byte, 0, len(p.prefix)+len(k))
	out = append(out, p.prefix...)
	return append(out, k...)
}

func (p *PrefixStore) Get(key []byte) ([]byte, error)  { return p.parent.Get(p.key(key)) }
func (p *PrefixStore) Has(key []byte) (bool, error)    { return p.parent.Has(p.key(key)) }
func (p *PrefixStore) Put(key, value []byte) error     { return p.parent.Put(p.key(key), value) }
func (p *PrefixStore) Delete(key []byte) error         { return p.parent.Delete(p.key(key)) }

func (p *PrefixStore) Iterate(r *util.Range, reverse bool) Iterator {
	var full *util.Range
	if r == nil {
		full = util.BytesPrefix(p.prefix)
	} else {
		full = &util.Range{Start: p.key(r.Start)}
		if r.Limit != nil {
			full.Limit = p.key(r.Limit)
		} else {
			full.Limit = util.BytesPrefix(p.prefix).Limit
		}
	}
	return &prefixIterator{Iterator: p.parent.Iterate(full, reverse), n: len(p.prefix)}
}

type prefixIterator struct {
	Iterator
	n int
}

func (it *prefixIterator) Key() []byte { return it.Iterator.Key()[it.n:] }
