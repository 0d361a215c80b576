// Package storage keeps the service's persistent state in BadgerDB: rate
// buckets that must survive restarts and the last report of each cron job.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/NethermindEth/nfaclaw-agent/metrics"
)

// ErrNotFound is returned by GetObject for a missing key.
var ErrNotFound = errors.New("key not found")

type dbCounters struct {
	puts      int64
	gets      int64
	conflicts int64
	errors    int64
}

// DBStorage represents a persistent storage using BadgerDB
type DBStorage struct {
	db       *badger.DB
	config   BadgerDBConfig
	counters dbCounters
	logger   *zap.Logger
}

// Open opens the database described by config.
func Open(config BadgerDBConfig, logger *zap.Logger) (*DBStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(config.DataDir, "badgerdb"))
	}
	if config.DisableLogging {
		opts = opts.WithLogger(nil)
	}
	opts = opts.WithSyncWrites(config.SyncWrites)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &DBStorage{db: db, config: config, logger: logger}, nil
}

func (s *DBStorage) logOperation(op string, key string, err error) {
	if err != nil {
		s.logger.Warn("BadgerDB operation failed", zap.String("op", op), zap.String("key", key), zap.Error(err))
		atomic.AddInt64(&s.counters.errors, 1)
	}
}

// Metrics returns a snapshot of the operation counters.
func (s *DBStorage) Metrics() metrics.StoreStats {
	return metrics.StoreStats{
		Puts:      atomic.LoadInt64(&s.counters.puts),
		Gets:      atomic.LoadInt64(&s.counters.gets),
		Conflicts: atomic.LoadInt64(&s.counters.conflicts),
		Errors:    atomic.LoadInt64(&s.counters.errors),
	}
}

// RunGCLoop collects the value log every GCInterval until ctx is done.
func (s *DBStorage) RunGCLoop(ctx context.Context) {
	if s.config.GCInterval <= 0 || s.config.InMemory {
		return
	}
	ticker := time.NewTicker(s.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunGC(); err != nil {
				s.logger.Warn("BadgerDB GC failed", zap.Error(err))
			}
		}
	}
}

// RunGC runs garbage collection on the database. Nothing to rewrite is not
// an error.
func (s *DBStorage) RunGC() error {
	err := s.db.RunValueLogGC(0.5) // Clean up if at least 50% can be discarded
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// Close closes the BadgerDB database
func (s *DBStorage) Close() error {
	return s.db.Close()
}

// Put stores a key-value pair, expiring after ttl when ttl > 0.
func (s *DBStorage) Put(key string, value []byte, ttl time.Duration) error {
	atomic.AddInt64(&s.counters.puts, 1)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(newEntry(key, value, ttl))
	})
	s.logOperation("put", key, err)
	return err
}

// Get retrieves a value by key. A missing key yields nil, nil.
func (s *DBStorage) Get(key string) ([]byte, error) {
	atomic.AddInt64(&s.counters.gets, 1)
	var valCopy []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		valCopy, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		s.logOperation("get", key, err)
		return nil, fmt.Errorf("failed to get value: %w", err)
	}
	return valCopy, nil
}

// GetByPrefix retrieves all live key-value pairs with a given prefix
func (s *DBStorage) GetByPrefix(prefix string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result[string(item.KeyCopy(nil))] = val
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get values by prefix: %w", err)
	}
	return result, nil
}

// PutObject serializes and stores an object in the database
func (s *DBStorage) PutObject(key string, obj interface{}, ttl time.Duration) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal object: %w", err)
	}
	return s.Put(key, data, ttl)
}

// GetObject retrieves and deserializes an object from the database
func (s *DBStorage) GetObject(key string, obj interface{}) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err := json.Unmarshal(data, obj); err != nil {
		return fmt.Errorf("failed to unmarshal object: %w", err)
	}
	return nil
}

// update runs fn in a read-write transaction, retrying when a concurrent
// transaction touched the same keys.
func (s *DBStorage) update(fn func(txn *badger.Txn) error) error {
	const maxAttempts = 8
	var err error
	for i := 0; i < maxAttempts; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		atomic.AddInt64(&s.counters.conflicts, 1)
	}
	return err
}

func newEntry(key string, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}
