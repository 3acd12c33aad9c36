package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	store "github.com/lnsp/tuplestore"
	"github.com/lnsp/tuplestore/tuple"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/alecthomas/kingpin.v2"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type action int

const (
	put action = iota
	get
	del
)

func (a action) String() string {
	switch a {
	case put:
		return "put"
	case get:
		return "get"
	default:
		return "delete"
	}
}

// pick chooses an action: 70% puts, 25% gets and 5% deletes.
func pick(rng *rand.Rand) action {
	switch n := rng.Intn(100); {
	case n < 70:
		return put
	case n < 95:
		return get
	default:
		return del
	}
}

func eventSchema() (*tuple.Schema, error) {
	return tuple.NewSchema("event",
		tuple.TextField{Name: "id", Capacity: 40},
		tuple.ScalarField{Kind: tuple.Int64, Name: "time"},
		tuple.ScalarField{Kind: tuple.UInt16, Name: "kind"},
		tuple.ArrayField{Kind: tuple.Float64, Name: "values", Count: 4},
		tuple.TextArrayField{Name: "tags", Capacity: 8, Count: 2},
	)
}

type counters struct {
	ops, puts, gets, misses, deletes int64
}

func worker(ctx context.Context, db *store.Store, keys int, seed int64, stats *counters) error {
	rng := rand.New(rand.NewSource(seed))
	event := tuple.New(db.Schema())
	for ctx.Err() == nil {
		key := []byte(fmt.Sprintf("event-%08d", rng.Intn(keys)))
		switch pick(rng) {
		case put:
			event.PutText(0, uuid.New().String())
			tuple.Put(event, 1, time.Now().UnixNano())
			tuple.Put(event, 2, uint16(rng.Intn(1<<16)))
			tuple.PutArray(event, 3, []float64{rng.Float64(), rng.Float64(), rng.NormFloat64(), rng.ExpFloat64()})
			event.PutTextAt(4, rng.Intn(2), "tag")
			if err := db.Put(key, event); err != nil {
				return fmt.Errorf("put %s: %w", key, err)
			}
			atomic.AddInt64(&stats.puts, 1)
		case get:
			if _, err := db.Get(key); errors.Is(err, store.ErrNotFound) {
				atomic.AddInt64(&stats.misses, 1)
			} else if err != nil {
				return fmt.Errorf("get %s: %w", key, err)
			}
			atomic.AddInt64(&stats.gets, 1)
		case del:
			if err := db.Delete(key); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
			atomic.AddInt64(&stats.deletes, 1)
		}
		atomic.AddInt64(&stats.ops, 1)
	}
	return nil
}

func report(ctx context.Context, db *store.Store, stats *counters, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var last int64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		ops := atomic.LoadInt64(&stats.ops)
		logrus.WithFields(logrus.Fields{
			"ops":      humanize.Comma(ops),
			"rate":     humanize.Comma(int64(float64(ops-last)/interval.Seconds())) + "/s",
			"puts":     humanize.Comma(atomic.LoadInt64(&stats.puts)),
			"gets":     humanize.Comma(atomic.LoadInt64(&stats.gets)),
			"misses":   humanize.Comma(atomic.LoadInt64(&stats.misses)),
			"deletes":  humanize.Comma(atomic.LoadInt64(&stats.deletes)),
			"memtable": humanize.Bytes(uint64(db.MemSize())),
			"tables":   db.Tables(),
		}).Info("Progress")
		last = ops
	}
}

func run() error {
	app := kingpin.New("tupletest", "Load generator for a tuple store.")
	app.HelpFlag.Short('h')
	var (
		path     = app.Flag("path", "Store directory.").Default("store/").String()
		workers  = app.Flag("workers", "Number of concurrent workers.").Short('w').Default("8").Int()
		keys     = app.Flag("keys", "Size of the key space.").Default("65536").Int()
		duration = app.Flag("duration", "Stop after this long, zero runs until interrupted.").Default("0s").Duration()
		interval = app.Flag("interval", "Progress report interval.").Default("5s").Duration()
		memtable = app.Flag("memtable", "Memtable flush size in bytes.").Default("67108864").Int64()
		debug    = app.Flag("debug", "Enable debug logging.").Bool()
	)
	kingpin.MustParse(app.Parse(os.Args[1:]))
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
		store.SetLogLevel(logrus.DebugLevel)
	}
	if *keys < 1 || *workers < 1 {
		return fmt.Errorf("keys and workers must be positive")
	}

	schema, err := eventSchema()
	if err != nil {
		return err
	}
	opts := store.DefaultOptions()
	opts.MaxMemtableSize = *memtable
	db, err := store.New(*path, schema, opts)
	if err != nil {
		return err
	}

	// Notify on kill
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	stats := new(counters)
	start := time.Now()
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < *workers; i++ {
		seed := start.UnixNano() + int64(i)
		group.Go(func() error {
			return worker(ctx, db, *keys, seed, stats)
		})
	}
	group.Go(func() error {
		return report(ctx, db, stats, *interval)
	})
	err = group.Wait()
	logrus.WithFields(logrus.Fields{
		"ops":     humanize.Comma(atomic.LoadInt64(&stats.ops)),
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Info("Stopping")
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	return err
}
