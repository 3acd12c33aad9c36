package table

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/lnsp/tuplestore/table/block"
	"github.com/lnsp/tuplestore/table/index"
	"github.com/lnsp/tuplestore/tuple"

	"github.com/juju/ratelimit"
)

// ErrKeyOrder is returned when keys are not appended in ascending order.
var ErrKeyOrder = errors.New("table: keys out of order")

// Writer is an unfinished table in write mode.
// Values can only be written by increasing key order.
type Writer struct {
	Name string

	// mu protects the fields below.
	mu     sync.Mutex
	output io.Writer
	disk   *os.File
	block  *block.Builder
	index  *index.Index
	filter *index.Filter
	schema *tuple.Schema
	last   []byte

	size int64
}

// NewWriter creates name.table and returns a writer for it.
// If bucket is non-nil, writes to disk are rate limited.
func NewWriter(name string, schema *tuple.Schema, bucket *ratelimit.Bucket) (*Writer, error) {
	file, err := os.Create(name + tableSuffix)
	if err != nil {
		return nil, err
	}
	output := io.Writer(file)
	if bucket != nil {
		output = ratelimit.Writer(file, bucket)
	}
	return &Writer{
		Name: name,

		disk:   file,
		output: output,
		block:  block.NewBuilder(),
		filter: index.NewFilter(),
		index:  index.NewIndex(),
		schema: schema,
	}, nil
}

// Size returns the number of bytes flushed to the table file.
func (wt *Writer) Size() int64 {
	wt.mu.Lock()
	size := wt.size
	wt.mu.Unlock()
	return size
}

// Append appends the key-value pair to the table.
// Keys must not decrease between calls.
func (wt *Writer) Append(key, value []byte) error {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if wt.last != nil && bytes.Compare(key, wt.last) < 0 {
		return fmt.Errorf("%w: %x after %x", ErrKeyOrder, key, wt.last)
	}
	// Check if this is the first entry of the block, create index entry in case
	first := wt.block.Len() == 0
	if err := wt.block.Add(key, value); err != nil {
		return err
	}
	if first {
		wt.index.Put(append([]byte(nil), key...), wt.size)
	}
	wt.filter.Add(key)
	wt.last = append(wt.last[:0], key...)
	if !wt.block.Full() {
		return nil
	}
	return wt.flushBlock()
}

// flushBlock writes the pending block to disk.
// mu must be held.
func (wt *Writer) flushBlock() error {
	if wt.block.Len() == 0 {
		return nil
	}
	n, err := wt.block.WriteTo(wt.output)
	if err != nil {
		return err
	}
	wt.size += n
	return nil
}

func (wt *Writer) flushFile(suffix string, w io.WriterTo) error {
	file, err := os.Create(wt.Name + suffix)
	if err != nil {
		return err
	}
	if _, err := w.WriteTo(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Close flushes the last block and writes index, filter and schema files.
// The schema file is written last and marks the table as complete.
func (wt *Writer) Close() error {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if err := wt.flushBlock(); err != nil {
		wt.disk.Close()
		return err
	}
	if err := wt.disk.Close(); err != nil {
		return err
	}
	if err := wt.flushFile(indexSuffix, wt.index); err != nil {
		return err
	}
	if err := wt.flushFile(filterSuffix, wt.filter); err != nil {
		return err
	}
	return os.WriteFile(wt.Name+schemaSuffix, tuple.EncodeSchema(wt.schema), 0644)
}
