// Package cache provides the persistent request cache with Redis and
// badger backends.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrStorage is matched by every StorageError
	ErrStorage = errors.New("cache storage failure")

	// ErrInvalidEntry indicates the stored entry could not be decoded
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Entry is what a store keeps under a key.
type Entry struct {
	// StoredAt is when the value was written
	StoredAt time.Time `json:"stored_at"`

	// Value is the cached JSON payload, returned verbatim by Get
	Value json.RawMessage `json:"value"`
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	return time.Since(e.StoredAt)
}

func newEntry(value json.RawMessage) *Entry {
	return &Entry{StoredAt: time.Now().UTC(), Value: value}
}

func encodeEntry(value json.RawMessage) ([]byte, error) {
	if !json.Valid(value) {
		return nil, fmt.Errorf("%w: value is not valid JSON", ErrInvalidEntry)
	}
	return json.Marshal(newEntry(value))
}

func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// StorageError wraps a failure of the underlying storage engine.
type StorageError struct {
	Backend string
	Op      string
	Key     string
	Err     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s cache %s %q: %v", e.Backend, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s cache %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes every StorageError match ErrStorage.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
