package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s KVStore, prefix string, reverse bool) []string {
	t.Helper()
	it := s.Iterate(PrefixRange([]byte(prefix)), reverse)
	defer it.Release()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key())+"="+string(it.Value()))
	}
	require.NoError(t, it.Error())
	return keys
}

func TestMemStoreBasics(t *testing.T) {
	s := NewMemStore()

	_, err := s.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put([]byte("a/1"), []byte("x")))
	require.NoError(t, s.Put([]byte("a/2"), []byte("y")))
	require.NoError(t, s.Put([]byte("b/1"), []byte("z")))

	v, err := s.Get([]byte("a/1"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(v))

	assert.Equal(t, []string{"a/1=x", "a/2=y"}, collect(t, s, "a/", false))
	assert.Equal(t, []string{"a/2=y", "a/1=x"}, collect(t, s, "a/", true))

	require.NoError(t, s.Delete([]byte("a/1")))
	require.NoError(t, s.Delete([]byte("never-existed")))
	ok, err := s.Has([]byte("a/1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheStoreShadowsAndCommits(t *testing.T) {
	parent := NewMemStore()
	require.NoError(t, parent.Put([]byte("k/1"), []byte("p1")))
	require.NoError(t, parent.Put([]byte("k/2"), []byte("p2")))
	require.NoError(t, parent.Put([]byte("k/4"), []byte("p4")))

	cache := NewCacheStore(parent)
	require.NoError(t, cache.Put([]byte("k/2"), []byte("c2")))
	require.NoError(t, cache.Put([]byte("k/3"), []byte("c3")))
	require.NoError(t, cache.Delete([]byte("k/4")))

	// 父层不受影响
	v, err := parent.Get([]byte("k/2"))
	require.NoError(t, err)
	assert.Equal(t, "p2", string(v))

	_, err = cache.Get([]byte("k/4"))
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{"k/1=p1", "k/2=c2", "k/3=c3"}, collect(t, cache, "k/", false))
	assert.Equal(t, []string{"k/3=c3", "k/2=c2", "k/1=p1"}, collect(t, cache, "k/", true))

	require.NoError(t, cache.Write())
	assert.Equal(t, 0, cache.Dirty())
	assert.Equal(t, []string{"k/1=p1", "k/2=c2", "k/3=c3"}, collect(t, parent, "k/", false))
}

func TestNestedCacheDiscard(t *testing.T) {
	root := NewMemStore()
	outer := NewCacheStore(root)
	require.NoError(t, outer.Put([]byte("x"), []byte("1")))

	inner := NewCacheStore(outer)
	require.NoError(t, inner.Put([]byte("x"), []byte("2")))
	require.NoError(t, inner.Put([]byte("y"), []byte("3")))
	inner.Discard()

	v, err := outer.Get([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))
	_, err = outer.Get([]byte("y"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, outer.Write())
	v, err = root.Get([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))
}

func TestPrefixStoreIsolation(t *testing.T) {
	root := NewMemStore()
	a := NewPrefixStore(root, []byte("contract/a/"))
	b := NewPrefixStore(root, []byte("contract/b/"))

	require.NoError(t, a.Put([]byte("config"), []byte("A")))
	require.NoError(t, b.Put([]byte("config"), []byte("B")))

	v, err := a.Get([]byte("config"))
	require.NoError(t, err)
	assert.Equal(t, "A", string(v))

	it := a.Iterate(nil, false)
	defer it.Release()
	require.True(t, it.Next())
	assert.Equal(t, "config", string(it.Key()))
	assert.False(t, it.Next())
}

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestItemAndBucket(t *testing.T) {
	s := NewMemStore()

	item := NewItem[record]("state")
	got, err := item.MayLoad(s)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, item.Save(s, record{Name: "s", Count: 1}))
	loaded, err := item.Load(s)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Count)

	bucket := NewBucket[record]("rec")
	for i, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, bucket.Save(s, []byte(name), record{Name: name, Count: i}))
	}

	var names []string
	require.NoError(t, bucket.Range(s, nil, []byte("a"), 2, false, func(k []byte, v record) bool {
		names = append(names, v.Name)
		return true
	}))
	assert.Equal(t, []string{"b", "c"}, names)

	names = nil
	require.NoError(t, bucket.Range(s, nil, []byte("c"), 0, true, func(k []byte, v record) bool {
		names = append(names, string(k))
		return true
	}))
	assert.Equal(t, []string{"b", "a"}, names)
}

func TestLevelStoreBatch(t *testing.T) {
	s, err := OpenLevelStore(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer s.Close()

	cache := NewCacheStore(s)
	require.NoError(t, cache.Put([]byte("a"), []byte("1")))
	require.NoError(t, cache.Put([]byte("b"), []byte("2")))
	require.NoError(t, cache.Write())

	v, err := s.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(v))

	_, err = s.Get([]byte("c"))
	require.ErrorIs(t, err, ErrNotFound)
}
