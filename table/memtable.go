package table

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/lnsp/tuplestore/table/block"
	"github.com/lnsp/tuplestore/table/index"

	"github.com/sirupsen/logrus"
)

const (
	// logEntryHeader is the size of [keyLen u32][valueLen u32].
	logEntryHeader = 8
	// MaxValueSize is the largest value a memtable accepts.
	MaxValueSize = 1 << 28
)

// ErrValueTooLarge is returned when a value exceeds MaxValueSize.
var ErrValueTooLarge = errors.New("memtable: value too large")

// OpenMemtable opens a new memtable called name.
// The prefix given is used for glob searching of memtable logs of the form "prefix(*).log".
// All matched logs are then merged back together into the new memtable.
func OpenMemtable(prefix, name string) (*Memtable, error) {
	matches, err := filepath.Glob(fmt.Sprintf("%s*%s", prefix, logSuffix))
	if err != nil {
		return nil, err
	}
	memtable, err := NewMemtableFromFile(name)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	for _, log := range matches {
		oldName := strings.TrimSuffix(log, logSuffix)
		if oldName == name {
			continue
		}
		logger.WithFields(logrus.Fields{
			"from": oldName,
			"into": name,
		}).Debug("Merging memtables")
		old, err := NewMemtableFromFile(oldName)
		if err != nil {
			memtable.Close()
			return nil, err
		}
		if err := memtable.Merge(old); err != nil {
			memtable.Close()
			return nil, err
		}
	}
	return memtable, nil
}

// RemovePartialTables deletes all tables which have a log file attached to them
// or whose schema file is missing.
func RemovePartialTables(prefix string) error {
	matches, err := filepath.Glob(fmt.Sprintf("%s*%s", prefix, tableSuffix))
	if err != nil {
		return err
	}
	for _, table := range matches {
		name := strings.TrimSuffix(table, tableSuffix)
		_, logErr := os.Stat(name + logSuffix)
		_, schemaErr := os.Stat(name + schemaSuffix)
		if os.IsNotExist(logErr) && schemaErr == nil {
			continue
		}
		logger.WithField("table", name).Debug("Removing partial table")
		if err := removeFiles(name); err != nil {
			return err
		}
	}
	return nil
}

// Memtable is an in-memory key-value table backed by an append-only log.
// Each log entry consists of [keyLen u32][valueLen u32][key][value].
type Memtable struct {
	Name string

	path string

	// mu protects the fields below.
	mu   sync.Mutex
	mem  *index.Memory
	log  io.ReadWriteCloser
	size int64
}

// NewMemtableFromFile initializes a new memtable backed by the log file name.log.
func NewMemtableFromFile(name string) (*Memtable, error) {
	f, err := os.OpenFile(name+logSuffix, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	memtable, err := NewMemtable(f, name)
	if err != nil {
		f.Close()
		return nil, err
	}
	return memtable, nil
}

// NewMemtable initializes a new in-memory table and replays the given log.
func NewMemtable(log io.ReadWriteCloser, name string) (*Memtable, error) {
	path := ""
	if f, ok := log.(*os.File); ok {
		path = f.Name()
	}
	memtable := &Memtable{
		Name: name,

		path: path,
		mem:  index.NewMemory(),
		log:  log,
	}
	if _, err := memtable.ReadFrom(log); err != nil {
		return nil, fmt.Errorf("read memtable from %s: %w", name, err)
	}
	return memtable, nil
}

// ReadFrom replays log entries into the memtable. A truncated trailing
// entry, as left behind by an interrupted write, is ignored, and so is
// everything from an entry header with impossible lengths onwards.
func (table *Memtable) ReadFrom(log io.Reader) (int64, error) {
	table.mu.Lock()
	defer table.mu.Unlock()
	var (
		header [logEntryHeader]byte
		n      int64
	)
	for {
		if _, err := io.ReadFull(log, header[:]); err == io.EOF || err == io.ErrUnexpectedEOF {
			return n, nil
		} else if err != nil {
			return n, fmt.Errorf("failed to read entry header: %w", err)
		}
		keyLen := int64(binary.BigEndian.Uint32(header[0:4]))
		valueLen := int64(binary.BigEndian.Uint32(header[4:8]))
		if keyLen > math.MaxUint16 || valueLen > MaxValueSize {
			logger.WithFields(logrus.Fields{
				"key":   keyLen,
				"value": valueLen,
			}).Warn("Ignoring corrupt memtable log tail")
			return n, nil
		}
		entry := make([]byte, keyLen+valueLen)
		if _, err := io.ReadFull(log, entry); err == io.EOF || err == io.ErrUnexpectedEOF {
			return n, nil
		} else if err != nil {
			return n, fmt.Errorf("failed to read entry of %d bytes: %w", len(entry), err)
		}
		table.mem.Put(entry[:keyLen], entry[keyLen:])
		size := logEntryHeader + keyLen + valueLen
		table.size += size
		n += size
	}
}

// Size returns the number of log bytes written to the memtable.
func (table *Memtable) Size() int64 {
	table.mu.Lock()
	defer table.mu.Unlock()
	return table.size
}

// Get returns all values associated with the key in ascending byte order.
func (table *Memtable) Get(key []byte) [][]byte {
	table.mu.Lock()
	defer table.mu.Unlock()
	return table.mem.Get(key)
}

// commit appends the entry to the log.
// mu must be held.
func (table *Memtable) commit(key, value []byte) error {
	entry := make([]byte, logEntryHeader+len(key)+len(value))
	binary.BigEndian.PutUint32(entry[0:4], uint32(len(key)))
	binary.BigEndian.PutUint32(entry[4:8], uint32(len(value)))
	copy(entry[logEntryHeader:], key)
	copy(entry[logEntryHeader+len(key):], value)
	if _, err := table.log.Write(entry); err != nil {
		return err
	}
	table.size += int64(len(entry))
	return nil
}

// Put adds a new key value pair to the table.
func (table *Memtable) Put(key, value []byte) error {
	if len(key) > math.MaxUint16 {
		return fmt.Errorf("%w: %d bytes", block.ErrKeyTooLarge, len(key))
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(value))
	}
	table.mu.Lock()
	defer table.mu.Unlock()
	if err := table.commit(key, value); err != nil {
		return err
	}
	table.mem.Put(key, value)
	return nil
}

// Merge combines the newer memtable into this one.
// The newer memtable is closed and its log removed.
func (table *Memtable) Merge(newer *Memtable) error {
	newer.mu.Lock()
	defer newer.mu.Unlock()
	table.mu.Lock()
	defer table.mu.Unlock()
	size := newer.mem.Size()
	iterator := newer.mem.Iterator()
	for index := 0; iterator.Next(); index++ {
		if index%10000 == 0 {
			logger.WithFields(logrus.Fields{
				"from":     newer.Name,
				"into":     table.Name,
				"progress": float64(index) / float64(size),
			}).Debug("Merge memtables")
		}
		key, value := iterator.Key(), iterator.Value()
		if err := table.commit(key, value); err != nil {
			return err
		}
		table.mem.Put(key, value)
	}
	if err := newer.log.Close(); err != nil {
		return err
	}
	return newer.cleanup()
}

// Close closes the memtable log.
func (table *Memtable) Close() error {
	return table.log.Close()
}

// Compact appends the latest value of every key to the writer.
// This neither closes the writer nor removes the memtable log.
func (table *Memtable) Compact(writer *Writer) error {
	table.mu.Lock()
	defer table.mu.Unlock()
	iterator := table.mem.SetIterator()
	for iterator.Next() {
		values := iterator.Values()
		if err := writer.Append(iterator.Key(), values[len(values)-1]); err != nil {
			return fmt.Errorf("failed to compact key %x: %w", iterator.Key(), err)
		}
	}
	return nil
}

// Cleanup removes the table log from disk.
func (table *Memtable) Cleanup() error {
	table.mu.Lock()
	defer table.mu.Unlock()
	return table.cleanup()
}

func (table *Memtable) cleanup() error {
	if table.path != "" {
		return os.Remove(table.path)
	}
	return nil
}

// All returns all stored memtable records.
func (table *Memtable) All() []MemtableRecord {
	table.mu.Lock()
	defer table.mu.Unlock()
	records := make([]MemtableRecord, table.mem.Size())
	iterator := table.mem.SetIterator()
	for index := 0; iterator.Next(); index++ {
		records[index] = MemtableRecord{iterator.Key(), iterator.Values()}
	}
	return records
}

// MemtableRecord represents a single key in the memtable.
type MemtableRecord struct {
	Key    []byte
	Values [][]byte
}
