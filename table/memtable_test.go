package table

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/lnsp/tuplestore/table/block"
	"github.com/stretchr/testify/assert"
)

type mockReadWriteCloser struct {
	in  *bytes.Buffer
	out *bytes.Buffer
}

func (mockReadWriteCloser) Close() error { return nil }

func (mock *mockReadWriteCloser) Write(b []byte) (int, error) { return mock.out.Write(b) }

func (mock *mockReadWriteCloser) Read(b []byte) (int, error) { return mock.in.Read(b) }

func (mock *mockReadWriteCloser) Reopen() {
	mock.in = bytes.NewBuffer(mock.out.Bytes())
	mock.out = bytes.NewBuffer(nil)
}

func newMockReadWriteCloser() *mockReadWriteCloser {
	return &mockReadWriteCloser{
		in:  &bytes.Buffer{},
		out: &bytes.Buffer{},
	}
}

func makeTmpMemtable(t *testing.T) *Memtable {
	memtable, err := NewMemtableFromFile(filepath.Join(t.TempDir(), "memtable_test"))
	assert.NoError(t, err)
	t.Cleanup(func() { memtable.Close() })
	return memtable
}

func TestMemtablePutAndGet(t *testing.T) {
	mt, err := NewMemtable(newMockReadWriteCloser(), "memtable")
	assert.NoError(t, err)

	assert.Nil(t, mt.Put([]byte("nothing"), []byte("important")))
	assert.Nil(t, mt.Put([]byte("just"), []byte("memtable things")))
	assert.Nil(t, mt.Put([]byte("what"), []byte("omega")))
	assert.Nil(t, mt.Put([]byte("what"), []byte("alpha")))
	assert.Equal(t, [][]byte{[]byte("important")}, mt.Get([]byte("nothing")))
	assert.Equal(t, [][]byte{[]byte("memtable things")}, mt.Get([]byte("just")))
	assert.Equal(t, [][]byte{[]byte("alpha"), []byte("omega")}, mt.Get([]byte("what")))
	assert.Len(t, mt.Get([]byte("notfound")), 0)

	// number of key and value bytes + number of entries * 8
	assert.Equal(t, int64(16+19+9+9+8*4), mt.Size())
	assert.Nil(t, mt.Close())
}

func TestMemtableWrite(t *testing.T) {
	mock := newMockReadWriteCloser()
	mt, err := NewMemtable(mock, "memtable")
	assert.NoError(t, err)

	assert.Nil(t, mt.Put([]byte("nothingi"), []byte("mportant")))
	assert.Nil(t, mt.Put([]byte("just"), []byte("memorythings")))

	assert.Equal(t, []byte{
		0, 0, 0, 8,
		0, 0, 0, 8,
		'n', 'o', 't', 'h', 'i', 'n', 'g', 'i',
		'm', 'p', 'o', 'r', 't', 'a', 'n', 't',
		0, 0, 0, 4,
		0, 0, 0, 12,
		'j', 'u', 's', 't',
		'm', 'e', 'm', 'o', 'r', 'y', 't', 'h', 'i', 'n', 'g', 's',
	}, mock.out.Bytes())
}

func TestMemtableRestore(t *testing.T) {
	mock := newMockReadWriteCloser()
	mt, err := NewMemtable(mock, "memtable")
	assert.NoError(t, err)
	keys := []string{"hello", "world", "this", "is", "unique"}
	for _, k := range keys {
		assert.NoError(t, mt.Put([]byte(k), []byte(k)))
	}
	size := mt.Size()
	assert.NoError(t, mt.Close())

	mock.Reopen()
	mt, err = NewMemtable(mock, mt.Name)
	assert.NoError(t, err)
	assert.Equal(t, size, mt.Size())
	for _, k := range keys {
		assert.Equal(t, [][]byte{[]byte(k)}, mt.Get([]byte(k)))
	}
}

func TestMemtableReadFrom(t *testing.T) {
	tt := []struct {
		Name     string
		Data     []byte
		Expected int64
	}{
		{
			Name: "key len too short",
			Data: []byte{
				0, 0, 0, 8,
			},
			Expected: 0,
		},
		{
			Name: "value len too short",
			Data: []byte{
				0, 0, 0, 8,
				0, 0,
			},
			Expected: 0,
		},
		{
			Name: "key too short",
			Data: []byte{
				0, 0, 0, 8,
				0, 0, 0, 8,
				'n', 'o', 't',
			},
			Expected: 0,
		},
		{
			Name: "value too short",
			Data: []byte{
				0, 0, 0, 8,
				0, 0, 0, 8,
				'n', 'o', 't', 'h', 'i', 'n', 'g', 'i',
				'm', 'p', 'o', 'r', 't',
			},
			Expected: 0,
		},
		{
			Name: "one valid, one invalid",
			Data: []byte{
				0, 0, 0, 8,
				0, 0, 0, 8,
				'n', 'o', 't', 'h', 'i', 'n', 'g', 'i',
				'm', 'p', 'o', 'r', 't', 'a', 'n', 't',
				0, 0, 3, 4, 0,
			},
			Expected: 24,
		},
		{
			Name: "key len too large",
			Data: []byte{
				0, 0, 0, 2,
				0, 0, 0, 1,
				'o', 'k', '!',
				0, 1, 0, 0,
				0, 0, 0, 1,
				'x', 'y',
			},
			Expected: 11,
		},
		{
			Name: "value len too large",
			Data: []byte{
				0, 0, 0, 1,
				0xff, 0xff, 0xff, 0xff,
				'k',
			},
			Expected: 0,
		},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			mt, err := NewMemtable(newMockReadWriteCloser(), "memtable")
			assert.NoError(t, err)
			n, err := mt.ReadFrom(bytes.NewBuffer(tc.Data))
			assert.Nil(t, err)
			assert.Equal(t, tc.Expected, n)
			assert.Equal(t, tc.Expected, mt.Size())
		})
	}
}

func TestMemtablePutLimits(t *testing.T) {
	memtable := makeTmpMemtable(t)
	err := memtable.Put(make([]byte, math.MaxUint16+1), []byte("value"))
	assert.True(t, errors.Is(err, block.ErrKeyTooLarge))
	err = memtable.Put([]byte("key"), make([]byte, MaxValueSize+1))
	assert.True(t, errors.Is(err, ErrValueTooLarge))
	assert.Equal(t, int64(0), memtable.Size())
	assert.Empty(t, memtable.Get([]byte("key")))
}

func TestMemtableMerge(t *testing.T) {
	memtable1 := makeTmpMemtable(t)
	memtable2 := makeTmpMemtable(t)

	assert.Nil(t, memtable1.Put([]byte("hello"), []byte("world")))
	assert.Nil(t, memtable1.Put([]byte("another"), []byte("value")))
	assert.Nil(t, memtable2.Put([]byte("hello"), []byte("brother")))
	assert.Nil(t, memtable2.Put([]byte("zzz"), []byte("sleepy")))

	assert.Nil(t, memtable1.Merge(memtable2))
	assert.Equal(t, [][]byte{
		[]byte("brother"),
		[]byte("world")},
		memtable1.Get([]byte("hello")))
	assert.Equal(t, [][]byte{[]byte("value")}, memtable1.Get([]byte("another")))
	assert.Equal(t, [][]byte{[]byte("sleepy")}, memtable1.Get([]byte("zzz")))
	assert.Len(t, memtable1.Get([]byte("notfound")), 0)

	_, err := os.Stat(memtable2.Name + logSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestOpenMemtable(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"mem-1", "mem-2"} {
		mt, err := NewMemtableFromFile(filepath.Join(dir, name))
		assert.NoError(t, err)
		assert.NoError(t, mt.Put([]byte("key"), []byte{byte(i)}))
		assert.NoError(t, mt.Close())
	}

	mt, err := OpenMemtable(filepath.Join(dir, "mem"), filepath.Join(dir, "mem-3"))
	assert.NoError(t, err)
	defer mt.Close()
	assert.Equal(t, [][]byte{{0}, {1}}, mt.Get([]byte("key")))

	matches, err := filepath.Glob(filepath.Join(dir, "*"+logSuffix))
	assert.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "mem-3") + logSuffix}, matches)
	assert.Len(t, mt.All(), 1)
}
