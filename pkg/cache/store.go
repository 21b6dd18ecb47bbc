package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Store is a durable key/value cache of JSON values. Entries never expire;
// they live until deleted or cleared.
type Store interface {
	// Get returns the value last stored under key, or ErrCacheMiss.
	// A stored JSON null or false is still a hit.
	Get(ctx context.Context, key string) (json.RawMessage, error)

	// Entry is Get with the stored timestamp.
	Entry(ctx context.Context, key string) (*Entry, error)

	// Put stores value under key, replacing any previous entry.
	Put(ctx context.Context, key string, value json.RawMessage) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry of this store.
	Clear(ctx context.Context) error

	// Keys lists the stored keys in sorted order.
	Keys(ctx context.Context) ([]string, error)
}

// PutJSON marshals v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return s.Put(ctx, key, data)
}

// GetJSON loads key into dst. It reports false on a cache miss.
func GetJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return true, nil
}
