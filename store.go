// Package store persists tuples of a single schema under byte keys.
//
// Writes go to a write-ahead memtable which is compacted into sorted,
// immutable tables once it grows too large. Every write carries a version;
// reads return the tuple of the highest version.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lnsp/tuplestore/table"
	"github.com/lnsp/tuplestore/tuple"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/juju/ratelimit"
	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

var (
	// ErrNotFound is returned when a key has no live record.
	ErrNotFound = errors.New("store: key not found")
	// ErrSchemaMismatch is returned when a schema differs from the store schema.
	ErrSchemaMismatch = errors.New("store: schema mismatch")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

const (
	schemaFile  = "SCHEMA"
	tablePrefix = "mem"

	// DefaultMemtableSize is about 64MiB.
	DefaultMemtableSize = 1 << 26
)

// Options configures a store.
type Options struct {
	// MaxMemtableSize is the log size at which the active memtable is flushed.
	MaxMemtableSize int64
	// MaxTables is the number of tables kept before the oldest are merged.
	MaxTables int
	// Bucket limits table write throughput. Nil disables rate limiting.
	Bucket *ratelimit.Bucket
}

// DefaultOptions returns the options used by New when none are given.
func DefaultOptions() Options {
	return Options{
		MaxMemtableSize: DefaultMemtableSize,
		MaxTables:       table.DefaultMaxTables,
		Bucket:          table.DefaultBucket,
	}
}

// SetLogLevel sets the level of the store and table loggers.
func SetLogLevel(level logrus.Level) {
	logger.SetLevel(level)
	table.SetLogLevel(level)
}

func tableName(prefix string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, time.Now().UTC().Format("20060102150405.000000000"), uuid.New())
}

type Store struct {
	Path string

	schema *tuple.Schema
	opts   Options
	clock  int64

	// memory synchronizes all actions related to the active memtable.
	memory sync.RWMutex
	// flush synchronizes all write-actions related to the flushed memtable.
	flush sync.Mutex

	active, flushed *table.Memtable
	compaction      *table.Compaction
	closed          bool
}

// New creates a store for schema at path or reopens an existing one.
// An existing store must have been created with an equal schema.
func New(path string, schema *tuple.Schema, opts Options) (*Store, error) {
	// Ensure that directory exists
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("ensure path exists: %w", err)
	}
	existing, err := readSchema(path)
	switch {
	case os.IsNotExist(err):
		if err := os.WriteFile(filepath.Join(path, schemaFile), tuple.EncodeSchema(schema), 0644); err != nil {
			return nil, fmt.Errorf("write schema: %w", err)
		}
	case err != nil:
		return nil, err
	case !existing.Equal(schema):
		return nil, fmt.Errorf("%w: store has %v, got %v", ErrSchemaMismatch, existing, schema)
	}
	return open(path, schema, opts)
}

// Open reopens an existing store using its persisted schema.
func Open(path string, opts Options) (*Store, error) {
	schema, err := readSchema(path)
	if err != nil {
		return nil, err
	}
	return open(path, schema, opts)
}

func readSchema(path string) (*tuple.Schema, error) {
	data, err := os.ReadFile(filepath.Join(path, schemaFile))
	if err != nil {
		return nil, err
	}
	schema, err := tuple.DecodeSchema(data)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return schema, nil
}

func open(path string, schema *tuple.Schema, opts Options) (*Store, error) {
	defaults := DefaultOptions()
	if opts.MaxMemtableSize <= 0 {
		opts.MaxMemtableSize = defaults.MaxMemtableSize
	}
	if opts.MaxTables <= 0 {
		opts.MaxTables = defaults.MaxTables
	}
	store := &Store{
		Path:       path,
		schema:     schema,
		opts:       opts,
		compaction: table.NewCompaction(filepath.Join(path, tablePrefix), opts.MaxTables, opts.Bucket),
	}
	if err := store.Restore(); err != nil {
		return nil, err
	}
	return store, nil
}

// Schema returns the schema of all tuples in the store.
func (store *Store) Schema() *tuple.Schema {
	return store.schema
}

func (store *Store) prefix() string {
	return filepath.Join(store.Path, tablePrefix)
}

// Restore restores the old store's state.
func (store *Store) Restore() error {
	// Remove intermediate tables
	if err := table.RemovePartialTables(store.prefix()); err != nil {
		return err
	}
	// Load new memtable
	active, err := table.OpenMemtable(store.prefix(), filepath.Join(store.Path, tableName(tablePrefix)))
	if err != nil {
		return err
	}
	store.active = active
	tables, err := table.OpenTables(store.prefix())
	if err != nil {
		active.Close()
		return err
	}
	for _, t := range tables {
		if !t.Schema.Equal(store.schema) {
			for _, t := range tables {
				t.Close()
			}
			active.Close()
			return fmt.Errorf("%w: table %s", ErrSchemaMismatch, t.Name)
		}
	}
	if err := store.compaction.Restore(tables); err != nil {
		store.release()
		return fmt.Errorf("failed to restore tables: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"path":     store.Path,
		"tables":   len(tables),
		"memtable": humanize.Bytes(uint64(active.Size())),
	}).Debug("Restored store")
	if store.active.Size() >= store.opts.MaxMemtableSize {
		if err := store.Flush(); err != nil {
			store.release()
			return err
		}
	}
	return nil
}

// release closes the active memtable and all tables without flushing.
// The memtable log stays on disk and is replayed on the next open.
func (store *Store) release() {
	if err := store.active.Close(); err != nil {
		logger.WithError(err).WithField("name", store.active.Name).Warn("Failed to close memtable")
	}
	if err := store.compaction.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close tables")
	}
}

// mergeFlushed merges active and flushed memtables back into one
// and restores it as the active memtable.
func (store *Store) mergeFlushed() {
	store.memory.Lock()
	if err := store.flushed.Merge(store.active); err != nil {
		logger.WithError(err).Error("Failed to merge memtables")
	}
	store.active = store.flushed
	store.flushed = nil
	store.memory.Unlock()
}

// Flush replaces the active memtable with a new one
// and compacts the old one to disk. This can be done
// while serving entries from the flushed memtable
// as well as the active memtable and all other disk tables.
func (store *Store) Flush() error {
	store.flush.Lock()
	defer store.flush.Unlock()
	return store.flushLocked()
}

// flushLocked performs a flush. store.flush must be held.
func (store *Store) flushLocked() error {
	replace, err := table.NewMemtableFromFile(filepath.Join(store.Path, tableName(tablePrefix)))
	if err != nil {
		return err
	}
	// Lock active table for swapping
	store.memory.Lock()
	store.flushed = store.active
	store.active = replace
	store.memory.Unlock()

	flushed := store.flushed
	logger.WithFields(logrus.Fields{
		"name": flushed.Name,
		"size": humanize.Bytes(uint64(flushed.Size())),
	}).Debug("Flushing memtable")
	// Compact flushed table
	if err := store.compact(flushed); err != nil {
		logger.WithFields(logrus.Fields{
			"name": flushed.Name,
		}).WithError(err).Error("Failed to compact flushed memtable, merging back into main memory")
		store.mergeFlushed()
		return err
	}
	// Open new table
	compacted, err := table.Open(flushed.Name)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"name": flushed.Name,
		}).WithError(err).Error("Failed to open flushed table, merging back into main memory")
		store.mergeFlushed()
		return err
	}
	if err := store.compaction.Add(compacted); err != nil {
		// The table is already part of the compaction and serves reads.
		logger.WithFields(logrus.Fields{
			"name": flushed.Name,
		}).WithError(err).Warn("Failed to compact tables")
	}
	// Remove flushed memtable
	store.memory.Lock()
	store.flushed = nil
	store.memory.Unlock()
	if err := flushed.Close(); err != nil {
		return err
	}
	if err := flushed.Cleanup(); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"name": flushed.Name,
	}).Debug("Moved flushed to disk")
	return nil
}

func (store *Store) compact(memtable *table.Memtable) error {
	writer, err := table.NewWriter(memtable.Name, store.schema, store.opts.Bucket)
	if err != nil {
		return fmt.Errorf("failed to open table writer: %w", err)
	}
	if err := memtable.Compact(writer); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

// Close flushes the active memtable and closes all tables.
// If the flush fails, the memtable log is kept for the next open.
func (store *Store) Close() error {
	store.flush.Lock()
	defer store.flush.Unlock()
	store.memory.Lock()
	if store.closed {
		store.memory.Unlock()
		return ErrClosed
	}
	store.closed = true
	active := store.active
	store.memory.Unlock()
	if active.Size() > 0 {
		if err := store.flushLocked(); err != nil {
			store.release()
			return err
		}
		// flushLocked installed a fresh memtable
		active = store.active
	}
	if err := active.Close(); err != nil {
		return err
	}
	if err := active.Cleanup(); err != nil {
		return err
	}
	return store.compaction.Close()
}

// nextVersion returns a version above all versions handed out before,
// based on the current time.
func (store *Store) nextVersion() int64 {
	now := time.Now().UnixNano()
	for {
		last := atomic.LoadInt64(&store.clock)
		next := now
		if next <= last {
			next = last + 1
		}
		if atomic.CompareAndSwapInt64(&store.clock, last, next) {
			return next
		}
	}
}

// write stores a record under key and triggers a background flush if the
// memtable grew too large.
func (store *Store) write(key []byte, record *table.Record) error {
	// Lock in-memory table write access.
	store.memory.Lock()
	defer store.memory.Unlock()
	if store.closed {
		return ErrClosed
	}
	record.Version = store.nextVersion()
	if err := store.active.Put(key, record.Bytes()); err != nil {
		return err
	}
	if store.active.Size() >= store.opts.MaxMemtableSize && store.flush.TryLock() {
		go func() {
			defer store.flush.Unlock()
			if err := store.flushLocked(); err != nil {
				logger.WithError(err).Error("Background flush failed")
			}
		}()
	}
	return nil
}

// Put stores the tuple under key. t must be of the store schema.
func (store *Store) Put(key []byte, t *tuple.Tuple) error {
	if !t.Schema().Equal(store.schema) {
		return fmt.Errorf("%w: got %v", ErrSchemaMismatch, t.Schema())
	}
	return store.write(key, table.NewRecord(0, t))
}

// Delete removes key by writing a tombstone.
func (store *Store) Delete(key []byte) error {
	return store.write(key, table.Tombstone(0))
}

func (store *Store) collect(key []byte) ([][]byte, error) {
	store.memory.RLock()
	if store.closed {
		store.memory.RUnlock()
		return nil, ErrClosed
	}
	values := store.active.Get(key)
	if store.flushed != nil {
		values = append(values, store.flushed.Get(key)...)
	}
	store.memory.RUnlock()
	stored, err := store.compaction.Get(key)
	if err != nil {
		return nil, err
	}
	return append(values, stored...), nil
}

// Get returns a new tuple holding the latest values stored under key.
func (store *Store) Get(key []byte) (*tuple.Tuple, error) {
	values, err := store.collect(key)
	if err != nil {
		return nil, err
	}
	// Only return record with highest version
	latest, err := table.Latest(values)
	if err != nil {
		return nil, err
	}
	if latest == nil || latest.Delete {
		return nil, ErrNotFound
	}
	t := tuple.New(store.schema)
	if err := latest.Decode(t); err != nil {
		return nil, err
	}
	return t, nil
}

// MemSize returns the log size of the active and flushed memtables.
func (store *Store) MemSize() int64 {
	var size int64
	store.memory.RLock()
	size += store.active.Size()
	if store.flushed != nil {
		size += store.flushed.Size()
	}
	store.memory.RUnlock()
	return size
}

// Tables returns the number of on-disk tables.
func (store *Store) Tables() int {
	return store.compaction.Len()
}
