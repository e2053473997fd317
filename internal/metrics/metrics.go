// Package metrics exposes engine counters/histograms via
// github.com/prometheus/client_golang, replacing docdb's
// internal/metrics/prometheus.go — a hand-rolled reimplementation of the
// Prometheus text exposition format — with the real client library
// (grounded on cuemby-warren's go.mod, which already depends on it).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the collectors the engine's components record into.
// A single instance is shared by the engine, its cache, and the
// auto-sync service. CryptoOps, CatalogSaves and TableOperations are
// registered, but nothing in this module records into them.
type Metrics struct {
	Registry *prometheus.Registry

	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec

	AutoSyncFlushes  prometheus.Counter
	AutoSyncFailures prometheus.Counter
	AutoSyncDuration prometheus.Histogram
	AutoSyncKeys     prometheus.Counter

	CryptoOps       *prometheus.CounterVec
	CatalogSaves    prometheus.Counter
	TableOperations *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ldbstore_cache_hits_total",
			Help: "Cache hits by table.",
		}, []string{"table"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ldbstore_cache_misses_total",
			Help: "Cache misses by table.",
		}, []string{"table"}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ldbstore_cache_evictions_total",
			Help: "Cache evictions by reason (lru, lfu, ttl, memory_pressure).",
		}, []string{"reason"}),
		AutoSyncFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldbstore_autosync_flushes_total",
			Help: "Completed auto-sync flush ticks.",
		}),
		AutoSyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldbstore_autosync_failures_total",
			Help: "Auto-sync batches that failed after exhausting retries.",
		}),
		AutoSyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ldbstore_autosync_flush_duration_seconds",
			Help:    "Duration of one auto-sync flush tick.",
			Buckets: prometheus.DefBuckets,
		}),
		AutoSyncKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldbstore_autosync_keys_flushed_total",
			Help: "Dirty cache keys flushed to disk.",
		}),
		CryptoOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ldbstore_crypto_ops_total",
			Help: "Crypto operations by kind and result.",
		}, []string{"op", "result"}),
		CatalogSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldbstore_catalog_saves_total",
			Help: "Catalog persisted to meta.ldb.",
		}),
		TableOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ldbstore_table_operations_total",
			Help: "Table operations by kind and result.",
		}, []string{"op", "result"}),
	}

	reg.MustRegister(m.CacheHits, m.CacheMisses, m.CacheEvictions,
		m.AutoSyncFlushes, m.AutoSyncFailures, m.AutoSyncDuration, m.AutoSyncKeys,
		m.CryptoOps, m.CatalogSaves, m.TableOperations)

	return m
}

// NewDisabled returns a Metrics whose collectors exist but are never
// registered with a reachable registry, for tests/embeds that do not
// want a /metrics endpoint.
func NewDisabled() *Metrics { return New() }
