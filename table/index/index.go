// Package index provides the lookup structures of tables and memtables.
package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"
	lru "github.com/hashicorp/golang-lru"
	"github.com/willf/bloom"
)

const (
	// DefaultFilterSize is the bit count of a table filter.
	DefaultFilterSize = 20000
	// DefaultFilterHashes is the number of hash functions of a table filter.
	DefaultFilterHashes = 5
)

// Cache caches decompressed blocks by offset.
type Cache struct {
	*lru.ARCCache
}

func NewCache(size int) *Cache {
	if size < 1 {
		size = 1
	}
	arc, _ := lru.NewARC(size)
	return &Cache{arc}
}

// Filter tells whether a key may be present in a table.
type Filter struct {
	*bloom.BloomFilter
}

func NewFilter() *Filter {
	return &Filter{
		bloom.New(DefaultFilterSize, DefaultFilterHashes),
	}
}

// Memory is a sorted in-memory multimap from keys to sets of values.
// Values of one key are kept in byte order. Memory is not safe for
// concurrent use.
type Memory struct {
	*redblacktree.Tree
}

func NewMemory() *Memory {
	tree := redblacktree.NewWith(byteComparator)
	return &Memory{tree}
}

func (memory *Memory) Put(key []byte, value []byte) {
	node, ok := memory.Tree.Get(key)
	if !ok {
		node = treeset.NewWith(byteComparator)
		memory.Tree.Put(key, node)
	}
	set := node.(*treeset.Set)
	set.Add(value)
}

func (memory *Memory) Get(key []byte) [][]byte {
	node, ok := memory.Tree.Get(key)
	if !ok {
		return nil
	}
	return values(node.(*treeset.Set))
}

func values(set *treeset.Set) [][]byte {
	values := make([][]byte, set.Size())
	for i, v := range set.Values() {
		values[i] = v.([]byte)
	}
	return values
}

// Iterator iterates over all key-value pairs in key, then value order.
func (memory *Memory) Iterator() MemoryIterator {
	return MemoryIterator{
		tree: memory.Tree.Iterator(),
	}
}

// SetIterator iterates over all keys with their value sets.
func (memory *Memory) SetIterator() SetIterator {
	return SetIterator{
		tree: memory.Tree.Iterator(),
	}
}

type MemoryIterator struct {
	tree       redblacktree.Iterator
	set        treeset.Iterator
	key, value []byte
	init       bool
}

func (iterator *MemoryIterator) Next() bool {
	if !iterator.init {
		if !iterator.tree.Next() {
			return false
		}
		iterator.set = iterator.tree.Value().(*treeset.Set).Iterator()
		iterator.key = iterator.tree.Key().([]byte)
		iterator.init = true
	}
	next := iterator.set.Next()
	for !next && iterator.tree.Next() {
		iterator.set = iterator.tree.Value().(*treeset.Set).Iterator()
		iterator.key = iterator.tree.Key().([]byte)
		next = iterator.set.Next()
	}
	if !next {
		return false
	}
	iterator.value = iterator.set.Value().([]byte)
	return true
}

func (iterator *MemoryIterator) Key() []byte {
	return iterator.key
}

func (iterator *MemoryIterator) Value() []byte {
	return iterator.value
}

type SetIterator struct {
	tree redblacktree.Iterator
}

func (iterator *SetIterator) Next() bool {
	return iterator.tree.Next()
}

func (iterator *SetIterator) Key() []byte {
	return iterator.tree.Key().([]byte)
}

// Values returns the values of the current key in ascending byte order.
func (iterator *SetIterator) Values() [][]byte {
	return values(iterator.tree.Value().(*treeset.Set))
}

// Index maps the first key of each block to the block offset.
type Index struct {
	*redblacktree.Tree
}

// Get returns the offset of the block which may contain key.
func (index *Index) Get(key []byte) (int64, bool) {
	floor, ok := index.Tree.Floor(key)
	if !ok {
		return 0, false
	}
	return floor.Value.(int64), true
}

// WriteTo serializes the index as a sequence of
// [keyLen u64][key][offset u64] entries.
func (index *Index) WriteTo(file io.Writer) (int64, error) {
	var n int64
	iterator := index.Iterator()
	for iterator.Next() {
		key := iterator.Key().([]byte)
		offset := iterator.Value().(int64)
		keyLen := int64(len(key))
		if err := binary.Write(file, binary.BigEndian, keyLen); err != nil {
			return n, err
		}
		if _, err := file.Write(key); err != nil {
			return n, err
		}
		if err := binary.Write(file, binary.BigEndian, offset); err != nil {
			return n, err
		}
		n += 16 + keyLen
	}
	return n, nil
}

func (index *Index) ReadFrom(file io.Reader) (int64, error) {
	var n, keyLen int64
	for {
		if err := binary.Read(file, binary.BigEndian, &keyLen); err == io.EOF {
			return n, nil
		} else if err != nil {
			return n, fmt.Errorf("read index key len: %w", err)
		}
		if keyLen < 0 || keyLen > 1<<16 {
			return n, fmt.Errorf("read index: bad key len %d", keyLen)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(file, key); err != nil {
			return n, fmt.Errorf("read index key: %w", err)
		}
		var offset int64
		if err := binary.Read(file, binary.BigEndian, &offset); err != nil {
			return n, fmt.Errorf("read index offset: %w", err)
		}
		index.Put(key, offset)
		n += 16 + keyLen
	}
}

func NewIndex() *Index {
	tree := redblacktree.NewWith(byteComparator)
	return &Index{tree}
}

var byteComparator = utils.Comparator(func(a, b interface{}) int {
	return bytes.Compare(a.([]byte), b.([]byte))
})
