package table

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/ratelimit"
	"github.com/sirupsen/logrus"
)

// DefaultMaxTables is the number of tables kept before the oldest are merged.
const DefaultMaxTables = 4

// Compaction keeps a list of tables ordered from oldest to newest and merges
// the two oldest tables whenever there are more than MaxTables of them.
type Compaction struct {
	Prefix    string
	MaxTables int
	Bucket    *ratelimit.Bucket

	// merge serializes Add.
	merge sync.Mutex

	// mu protects the fields below.
	mu     sync.RWMutex
	tables []*Table
}

// NewCompaction returns an empty compaction writing merged tables with the given name prefix.
func NewCompaction(prefix string, maxTables int, bucket *ratelimit.Bucket) *Compaction {
	if maxTables < 1 {
		maxTables = DefaultMaxTables
	}
	return &Compaction{
		Prefix:    prefix,
		MaxTables: maxTables,
		Bucket:    bucket,
	}
}

// Restore loads previously opened tables, oldest first.
func (compaction *Compaction) Restore(tables []*Table) error {
	compaction.mu.Lock()
	compaction.tables = append(compaction.tables, tables...)
	compaction.mu.Unlock()
	return compaction.rebalance()
}

// Len returns the number of tables.
func (compaction *Compaction) Len() int {
	compaction.mu.RLock()
	defer compaction.mu.RUnlock()
	return len(compaction.tables)
}

// Tables returns a snapshot of the current tables, oldest first.
func (compaction *Compaction) Tables() []*Table {
	compaction.mu.RLock()
	defer compaction.mu.RUnlock()
	return append([]*Table(nil), compaction.tables...)
}

// Get collects the values of key from all tables.
func (compaction *Compaction) Get(key []byte) ([][]byte, error) {
	compaction.mu.RLock()
	defer compaction.mu.RUnlock()
	values := make([][]byte, 0, 1)
	for _, t := range compaction.tables {
		v, err := t.Get(key)
		if err != nil {
			return nil, err
		}
		values = append(values, v...)
	}
	return values, nil
}

// Add appends a new table and merges old tables if required.
func (compaction *Compaction) Add(table *Table) error {
	compaction.mu.Lock()
	compaction.tables = append(compaction.tables, table)
	compaction.mu.Unlock()
	if err := compaction.rebalance(); err != nil {
		return fmt.Errorf("compaction rebalance: %w", err)
	}
	return nil
}

func (compaction *Compaction) generateName() string {
	return fmt.Sprintf("%s-%s-%s", compaction.Prefix, time.Now().UTC().Format("20060102150405.000000000"), uuid.New().String())
}

// rebalance merges the two oldest tables until at most MaxTables remain.
// Readers are only blocked while the merged table is swapped in.
func (compaction *Compaction) rebalance() error {
	compaction.merge.Lock()
	defer compaction.merge.Unlock()
	for compaction.Len() > compaction.MaxTables {
		compaction.mu.RLock()
		left, right := compaction.tables[0], compaction.tables[1]
		compaction.mu.RUnlock()

		name := compaction.generateName()
		if err := Merge(name, left, right, compaction.Bucket); err != nil {
			return err
		}
		merged, err := Open(name)
		if err != nil {
			removeFiles(name)
			return fmt.Errorf("open merged table: %w", err)
		}

		compaction.mu.Lock()
		compaction.tables = append([]*Table{merged}, compaction.tables[2:]...)
		compaction.mu.Unlock()

		logger.WithFields(logrus.Fields{
			"left":   left.Name,
			"right":  right.Name,
			"merged": merged.Name,
		}).Debug("Compacted tables")
		for _, t := range []*Table{left, right} {
			if err := t.Delete(); err != nil {
				logger.WithError(err).WithField("table", t.Name).Warn("Failed to delete merged table")
			}
		}
	}
	return nil
}

// Close closes all tables.
func (compaction *Compaction) Close() error {
	compaction.merge.Lock()
	defer compaction.merge.Unlock()
	compaction.mu.Lock()
	defer compaction.mu.Unlock()
	var first error
	for _, t := range compaction.tables {
		if err := t.Close(); err != nil {
			logger.WithError(err).WithField("table", t.Name).Warn("Failed to close table")
			if first == nil {
				first = err
			}
		}
	}
	compaction.tables = nil
	return first
}
