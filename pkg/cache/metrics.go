package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by backend
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inat_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"backend"}, // "redis", "badger"
	)

	// CacheMisses tracks cache misses by backend
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inat_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"backend"},
	)

	// CacheWriteBytes tracks the encoded size of stored entries
	CacheWriteBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inat_cache_write_bytes_total",
			Help: "Total bytes written to the cache",
		},
		[]string{"backend"},
	)

	// CacheErrors tracks storage engine errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inat_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"backend", "operation"}, // "get", "put", "delete", "clear", "keys"
	)
)

func storageError(backend, op, key string, err error) error {
	CacheErrors.WithLabelValues(backend, op).Inc()
	return &StorageError{Backend: backend, Op: op, Key: key, Err: err}
}
