// Package table implements persistent, sorted and immutable tables of tuple
// records together with the write-ahead memtable that feeds them.
package table

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/lnsp/tuplestore/table/block"
	"github.com/lnsp/tuplestore/table/index"
	"github.com/lnsp/tuplestore/tuple"

	"github.com/juju/ratelimit"
	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

// DefaultBucket limits table writes to 4 MiB/s with bursts of 8 MiB.
var DefaultBucket = ratelimit.NewBucketWithRate(4<<20, 8<<20)

// ErrSchemaMismatch is returned when tables of different schemas are combined.
var ErrSchemaMismatch = errors.New("table: schema mismatch")

const (
	logSuffix    = ".log"
	tableSuffix  = ".table"
	indexSuffix  = ".index"
	filterSuffix = ".filter"
	schemaSuffix = ".schema"

	// MaxCacheSize defines the maximum number of blocks cached in memory. By default 8 MiB.
	MaxCacheSize = 128
)

// SetLogLevel sets the level of the table logger.
func SetLogLevel(level logrus.Level) {
	logger.SetLevel(level)
}

type LockedFile struct {
	*os.File
	sync.Mutex
}

// Table is a key-sorted list of key-record pairs stored on disk.
// It is backed by multiple performance and size optimizations, such as
// block-based compression, key filtering using bloom filters,
// ARC cache for block accesses and RB tree based key indexing.
type Table struct {
	Name   string
	File   *LockedFile
	Schema *tuple.Schema

	// Table key range
	Begin, End []byte

	// Performance optimizations
	Index  *index.Index
	Filter *index.Filter
	Cache  *index.Cache
}

// Open opens the table file and loads index, filter and schema into memory.
func Open(name string) (*Table, error) {
	schemaData, err := os.ReadFile(name + schemaSuffix)
	if err != nil {
		return nil, err
	}
	schema, err := tuple.DecodeSchema(schemaData)
	if err != nil {
		return nil, fmt.Errorf("load schema of %s: %w", name, err)
	}
	tableFile, err := os.Open(name + tableSuffix)
	if err != nil {
		return nil, err
	}
	table := &Table{
		Name:   name,
		File:   &LockedFile{File: tableFile},
		Schema: schema,
		Index:  index.NewIndex(),
		Filter: index.NewFilter(),
		Cache:  index.NewCache(MaxCacheSize),
	}
	if err := table.load(); err != nil {
		tableFile.Close()
		return nil, err
	}
	return table, nil
}

func (table *Table) load() error {
	indexFile, err := os.Open(table.Name + indexSuffix)
	if err != nil {
		return err
	}
	defer indexFile.Close()
	if _, err := table.Index.ReadFrom(indexFile); err != nil {
		return err
	}
	filterFile, err := os.Open(table.Name + filterSuffix)
	if err != nil {
		return err
	}
	defer filterFile.Close()
	if _, err := table.Filter.ReadFrom(filterFile); err != nil {
		return err
	}
	if err := table.determineKeyRange(); err != nil {
		return fmt.Errorf("failed to determine key range: %w", err)
	}
	return nil
}

// OpenTables opens a slice of tables identified by a common prefix,
// sorted by name.
func OpenTables(glob string) ([]*Table, error) {
	matches, err := filepath.Glob(fmt.Sprintf("%s*%s", glob, tableSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	tables := make([]*Table, 0, len(matches))
	for _, name := range matches {
		table, err := Open(strings.TrimSuffix(name, tableSuffix))
		if err != nil {
			for _, t := range tables {
				t.Close()
			}
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// Close closes a table file.
func (table *Table) Close() error {
	return table.File.Close()
}

// Delete closes a table file and removes it from disk.
func (table *Table) Delete() error {
	if err := table.File.Close(); err != nil {
		return err
	}
	return removeFiles(table.Name)
}

// removeFiles deletes all files belonging to the table name.
func removeFiles(name string) error {
	for _, suffix := range []string{schemaSuffix, tableSuffix, filterSuffix, indexSuffix} {
		if err := os.Remove(name + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Empty reports whether the table holds no rows.
func (table *Table) Empty() bool {
	return table.Index.Empty()
}

// determineKeyRange calculates the key range this table covers.
func (table *Table) determineKeyRange() error {
	// Get first key
	iterator := table.Index.Iterator()
	if !iterator.First() {
		table.Begin = []byte{}
		table.End = []byte{}
		return nil
	}
	table.Begin = iterator.Key().([]byte)
	// Seek last block, last entry
	if !iterator.Last() {
		return fmt.Errorf("failed to find last block")
	}
	endOffset := iterator.Value().(int64)
	b, _, err := block.Read(table.File, endOffset)
	if err != nil {
		return fmt.Errorf("failed to load last block: %w", err)
	}
	scanner := ScanRows(b)
	for scanner.Next() {
		table.End = scanner.Key()
	}
	return nil
}

// InRange returns if the table may contain the given key.
func (table *Table) InRange(key []byte) bool {
	if table.Empty() {
		return false
	}
	return bytes.Compare(key, table.Begin) >= 0 && bytes.Compare(key, table.End) <= 0
}

func (table *Table) seek(key []byte) (block.Block, error) {
	// Find block in index
	offset, ok := table.Index.Get(key)
	if !ok {
		return nil, nil
	}
	// Check if block in cache
	if cached, ok := table.Cache.Get(offset); ok {
		return cached.(block.Block), nil
	}
	b, _, err := block.Read(table.File, offset)
	if err != nil {
		return nil, err
	}
	table.Cache.Add(offset, b)
	return b, nil
}

// Get returns all values stored for key.
func (table *Table) Get(key []byte) ([][]byte, error) {
	if !table.InRange(key) || !table.Filter.Test(key) {
		return nil, nil
	}
	b, err := table.seek(key)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"table": table.Name,
		}).WithError(err).Error("Failed to read block")
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	return b.Find(key), nil
}

// Scan returns a scanner that scans through the table.
func (table *Table) Scan() *Scanner {
	return &Scanner{
		block: ScanBlocks(table.File),
	}
}

func minmax(a, b []byte) ([]byte, []byte) {
	switch bytes.Compare(a, b) {
	case -1:
		return a, b
	default:
		return b, a
	}
}

// Merge combines two tables into a new table at path.
// For keys present in both tables the record with the higher version is kept.
func Merge(path string, left *Table, right *Table, bucket *ratelimit.Bucket) error {
	if !left.Schema.Equal(right.Schema) {
		return fmt.Errorf("%w: merge %s into %s", ErrSchemaMismatch, right.Name, left.Name)
	}
	table, err := NewWriter(path, left.Schema, bucket)
	if err != nil {
		return err
	}
	if err := merge(table, left.Scan(), right.Scan()); err != nil {
		table.Close()
		removeFiles(path)
		return err
	}
	logger.WithFields(logrus.Fields{
		"left":  left.Name,
		"right": right.Name,
		"into":  path,
	}).Debug("Merged tables")
	return table.Close()
}

func merge(table *Writer, ls, rs *Scanner) error {
	for ls.Peek() && rs.Peek() {
		p, key, value := ls.Compare(rs)
		if err := table.Append(key, value); err != nil {
			return err
		}
		if p <= 0 {
			ls.Skip()
		}
		if p >= 0 {
			rs.Skip()
		}
	}
	for _, s := range []*Scanner{ls, rs} {
		for s.Next() {
			if err := table.Append(s.Key(), s.Value()); err != nil {
				return err
			}
		}
		if err := s.Err(); err != nil {
			return err
		}
	}
	return nil
}
