package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

const backendBadger = "badger"

var badgerPrefix = []byte("inat:cache:")

// BadgerStore keeps entries in an embedded badger database on local disk.
type BadgerStore struct {
	db    *badger.DB
	owned bool
}

// OpenBadger opens (or creates) a badger database at path. An empty path
// opens an in-memory database, which is what the tests use.
func OpenBadger(path string, logger zerolog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{logger: logger.With().Str("backend", backendBadger).Logger()})
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &BadgerStore{db: db, owned: true}, nil
}

// NewBadgerStore wraps an already open database. Close does not close it.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	if db == nil {
		panic("badger db cannot be nil")
	}
	return &BadgerStore{db: db}
}

// Close closes the database if the store opened it.
func (s *BadgerStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func badgerKey(key string) []byte {
	return append(append([]byte{}, badgerPrefix...), key...)
}

// Get retrieves the value stored under key.
func (s *BadgerStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	entry, err := s.Entry(ctx, key)
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

// Entry retrieves the stored entry for key.
func (s *BadgerStore) Entry(_ context.Context, key string) (*Entry, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		CacheMisses.WithLabelValues(backendBadger).Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, storageError(backendBadger, "get", key, err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		CacheErrors.WithLabelValues(backendBadger, "get").Inc()
		return nil, err
	}

	CacheHits.WithLabelValues(backendBadger).Inc()
	return entry, nil
}

// Put stores value under key.
func (s *BadgerStore) Put(_ context.Context, key string, value json.RawMessage) error {
	data, err := encodeEntry(value)
	if err != nil {
		CacheErrors.WithLabelValues(backendBadger, "put").Inc()
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(key), data)
	})
	if err != nil {
		return storageError(backendBadger, "put", key, err)
	}

	CacheWriteBytes.WithLabelValues(backendBadger).Add(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (s *BadgerStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(key))
	})
	if err != nil {
		return storageError(backendBadger, "delete", key, err)
	}
	return nil
}

// Clear drops every cache entry.
func (s *BadgerStore) Clear(_ context.Context) error {
	if err := s.db.DropPrefix(badgerPrefix); err != nil {
		return storageError(backendBadger, "clear", "", err)
	}
	return nil
}

// Keys lists the stored keys. Badger iterates in byte order, so the result
// is already sorted.
func (s *BadgerStore) Keys(_ context.Context) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = badgerPrefix

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			keys = append(keys, string(k[len(badgerPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, storageError(backendBadger, "keys", "", err)
	}
	return keys, nil
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
