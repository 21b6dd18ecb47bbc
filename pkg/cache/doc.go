// Package cache provides the persistent request cache used by the iNaturalist
// client.
//
// Entries are whole JSON values stored under opaque string keys: the full
// request URL of a paged query, or an entity lookup URL such as
// "https://api.inaturalist.org/v1/taxa/47126". There is no TTL and no
// eviction. An entry lives until it is deleted or the store is cleared, and
// a second Put replaces the first.
//
// # Backends
//
//   - RedisStore: shared between processes, durable per the server's
//     persistence settings. Keys live under DefaultRedisPrefix.
//   - BadgerStore: embedded, on local disk. The CLI default.
//
// # Basic Usage
//
//	store, err := cache.OpenBadger("/var/cache/inatq", logger)
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	value, err := store.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then store.Put(ctx, key, value)
//	}
//
// Engine failures come back as *StorageError and match ErrStorage.
//
// # Metrics
//
//   - inat_cache_hits_total{backend}
//   - inat_cache_misses_total{backend}
//   - inat_cache_write_bytes_total{backend}
//   - inat_cache_errors_total{backend,operation}
package cache
