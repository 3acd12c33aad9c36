package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lnsp/tuplestore/table"
	"github.com/lnsp/tuplestore/tuple"
	"github.com/stretchr/testify/assert"
)

func userSchema(t *testing.T) *tuple.Schema {
	schema, err := tuple.NewSchema("user",
		tuple.ScalarField{Kind: tuple.UInt32, Name: "id"},
		tuple.TextField{Name: "name", Capacity: 16},
		tuple.ArrayField{Kind: tuple.Float32, Name: "scores", Count: 3},
		tuple.ScalarField{Kind: tuple.Pointer, Name: "session"},
	)
	assert.NoError(t, err)
	return schema
}

func user(schema *tuple.Schema, id uint32, name string) *tuple.Tuple {
	t := tuple.New(schema)
	tuple.Put(t, 0, id)
	t.PutText(1, name)
	tuple.PutArray(t, 2, []float32{1, 2.5, float32(id)})
	tuple.Put(t, 3, uintptr(0xbeef))
	return t
}

func testOptions() Options {
	return Options{
		MaxMemtableSize: 4 << 10,
		MaxTables:       2,
	}
}

func TestStorePutGet(t *testing.T) {
	schema := userSchema(t)
	store, err := New(t.TempDir(), schema, testOptions())
	assert.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Put([]byte("hello"), user(schema, 1, "darkness")))
	assert.NoError(t, store.Put([]byte("my"), user(schema, 2, "old")))
	assert.NoError(t, store.Put([]byte("my"), user(schema, 3, "friend")))

	got, err := store.Get([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, uint32(1), tuple.Get[uint32](got, 0))
	assert.Equal(t, "darkness", got.Text(1))
	assert.Equal(t, []float32{1, 2.5, 1}, tuple.GetArray[float32](got, 2))
	// pointers are not persisted
	assert.Equal(t, uintptr(0), tuple.Get[uintptr](got, 3))

	got, err = store.Get([]byte("my"))
	assert.NoError(t, err)
	assert.Equal(t, "friend", got.Text(1))

	_, err = store.Get([]byte("unknown"))
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.NoError(t, store.Delete([]byte("my")))
	_, err = store.Get([]byte("my"))
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.NoError(t, store.Put([]byte("my"), user(schema, 4, "again")))
	got, err = store.Get([]byte("my"))
	assert.NoError(t, err)
	assert.Equal(t, "again", got.Text(1))
}

func TestStoreSchema(t *testing.T) {
	dir := t.TempDir()
	schema := userSchema(t)
	store, err := New(dir, schema, testOptions())
	assert.NoError(t, err)

	other, err := tuple.Make("other", tuple.ScalarField{Kind: tuple.Int8, Name: "x"})
	assert.NoError(t, err)
	err = store.Put([]byte("key"), other)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
	assert.NoError(t, store.Close())

	_, err = New(dir, other.Schema(), testOptions())
	assert.True(t, errors.Is(err, ErrSchemaMismatch))

	reopened, err := Open(dir, testOptions())
	assert.NoError(t, err)
	assert.True(t, reopened.Schema().Equal(schema))
	assert.NoError(t, reopened.Close())

	_, err = Open(t.TempDir(), testOptions())
	assert.Error(t, err)
}

func TestStorePersistence(t *testing.T) {
	dir := t.TempDir()
	schema := userSchema(t)
	store, err := New(dir, schema, testOptions())
	assert.NoError(t, err)

	const n = 500
	for i := 0; i < n; i++ {
		assert.NoError(t, store.Put([]byte(fmt.Sprintf("user-%03d", i)), user(schema, uint32(i), fmt.Sprint("v1-", i))))
	}
	assert.NoError(t, store.Flush())
	for i := 0; i < n; i += 2 {
		assert.NoError(t, store.Put([]byte(fmt.Sprintf("user-%03d", i)), user(schema, uint32(i), fmt.Sprint("v2-", i))))
	}
	for i := 0; i < n; i += 5 {
		assert.NoError(t, store.Delete([]byte(fmt.Sprintf("user-%03d", i))))
	}
	assert.NoError(t, store.Flush())
	assert.LessOrEqual(t, store.Tables(), 2)

	check := func(t *testing.T, store *Store) {
		for i := 0; i < n; i++ {
			got, err := store.Get([]byte(fmt.Sprintf("user-%03d", i)))
			switch {
			case i%5 == 0:
				assert.True(t, errors.Is(err, ErrNotFound), "user %d", i)
			case i%2 == 0:
				assert.NoError(t, err)
				assert.Equal(t, fmt.Sprint("v2-", i), got.Text(1))
			default:
				assert.NoError(t, err)
				assert.Equal(t, fmt.Sprint("v1-", i), got.Text(1))
			}
		}
	}
	check(t, store)
	assert.NoError(t, store.Close())
	assert.True(t, errors.Is(store.Put([]byte("x"), user(schema, 0, "x")), ErrClosed))

	reopened, err := New(dir, schema, testOptions())
	assert.NoError(t, err)
	defer reopened.Close()
	check(t, reopened)
}

func TestStoreRestoreLog(t *testing.T) {
	dir := t.TempDir()
	schema := userSchema(t)
	store, err := New(dir, schema, Options{MaxMemtableSize: 1 << 20})
	assert.NoError(t, err)
	assert.NoError(t, store.Put([]byte("key"), user(schema, 7, "logged")))
	assert.Equal(t, 0, store.Tables())
	assert.Greater(t, store.MemSize(), int64(0))
	// simulate a crash: close the memtable log without flushing it
	assert.NoError(t, store.active.Close())
	assert.NoError(t, store.compaction.Close())

	reopened, err := Open(dir, Options{MaxMemtableSize: 1 << 20})
	assert.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get([]byte("key"))
	assert.NoError(t, err)
	assert.Equal(t, "logged", got.Text(1))
}

func TestStoreConcurrent(t *testing.T) {
	schema := userSchema(t)
	store, err := New(t.TempDir(), schema, testOptions())
	assert.NoError(t, err)
	defer store.Close()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := []byte(fmt.Sprintf("w%d-%03d", w, i))
				assert.NoError(t, store.Put(key, user(schema, uint32(i), "concurrent")))
				got, err := store.Get(key)
				if assert.NoError(t, err) {
					assert.Equal(t, uint32(i), tuple.Get[uint32](got, 0))
				}
			}
		}(w)
	}
	wg.Wait()
}

// openFiles counts the file descriptors of the test process.
func openFiles(t *testing.T) int {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skip("file descriptors not listable:", err)
	}
	return len(entries)
}

func TestStoreCloseFlushError(t *testing.T) {
	dir := t.TempDir()
	schema := userSchema(t)
	files := openFiles(t)
	store, err := New(dir, schema, Options{MaxMemtableSize: 1 << 20})
	assert.NoError(t, err)
	assert.NoError(t, store.Put([]byte("key"), user(schema, 3, "unflushed")))

	// a directory in place of the table file makes the flush fail
	assert.NoError(t, os.Mkdir(store.active.Name+".table", 0755))
	assert.Error(t, store.Close())
	assert.Equal(t, files, openFiles(t))
	assert.True(t, errors.Is(store.Close(), ErrClosed))

	reopened, err := Open(dir, Options{MaxMemtableSize: 1 << 20})
	assert.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get([]byte("key"))
	assert.NoError(t, err)
	assert.Equal(t, "unflushed", got.Text(1))
}

func TestStoreRestoreError(t *testing.T) {
	dir := t.TempDir()
	schema := userSchema(t)
	store, err := New(dir, schema, testOptions())
	assert.NoError(t, err)
	assert.NoError(t, store.Close())

	for i := 1; i <= 3; i++ {
		writer, err := table.NewWriter(filepath.Join(dir, fmt.Sprintf("%s-%d", tablePrefix, i)), schema, nil)
		assert.NoError(t, err)
		// enough rows for several blocks
		for j := 0; j < 5000; j++ {
			record := table.NewRecord(int64(i), user(schema, uint32(j), "restored"))
			assert.NoError(t, writer.Append([]byte(fmt.Sprintf("user-%05d", j)), record.Bytes()))
		}
		assert.NoError(t, writer.Close())
	}
	// corrupt the first block of the oldest table so merging it fails
	f, err := os.OpenFile(filepath.Join(dir, tablePrefix+"-1.table"), os.O_WRONLY, 0644)
	assert.NoError(t, err)
	_, err = f.WriteAt([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, 8)
	assert.NoError(t, err)
	assert.NoError(t, f.Close())

	files := openFiles(t)
	_, err = Open(dir, testOptions())
	assert.Error(t, err)
	assert.Equal(t, files, openFiles(t))
}
