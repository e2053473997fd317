// Package config holds the engine's tunables in one nested struct with a
// DefaultConfig constructor, the same shape docdb's internal/config uses.
package config

import "time"

type Config struct {
	// RootDir is the directory every table's file or chunk directory and
	// the catalog (meta.ldb) live under.
	RootDir string

	IOTimeout time.Duration

	Catalog  CatalogConfig
	Storage  StorageConfig
	Cache    CacheConfig
	Query    QueryConfig
	AutoSync AutoSyncConfig
	Crypto   CryptoConfig
}

type CatalogConfig struct {
	// SaveDebounce is how long the catalog waits after a dirty mark
	// before writing meta.ldb; short in tests, longer in production.
	SaveDebounce time.Duration
}

type StorageConfig struct {
	// ChunkSizeThreshold is the serialized-JSON byte size at which the
	// chunked handler starts a new chunk file, and at half of which the
	// should-we-go-chunked heuristic switches a new table to chunked mode.
	ChunkSizeThreshold int64
}

type CacheConfig struct {
	Strategy          string // "lru" | "lfu"
	MaxSize           int
	DefaultExpiry     time.Duration
	MaxMemoryUsage    int64
	MemoryThreshold   float64
	AvalancheJitterMS int
	PenetrationTTL    time.Duration
	EnablePenetration bool
	EnableBreakdown   bool
	EnableAvalanche   bool
}

type QueryConfig struct {
	// CountingSortMaxCardinalityFraction is the "under ~10% of data"
	// threshold from spec.md §4.4, as a fraction of sample size.
	CountingSortMaxCardinalityFraction float64
	DefaultSortThreshold               int
}

type AutoSyncConfig struct {
	Interval    time.Duration
	MinItems    int
	BatchSize   int
	MaxAttempts int
	Workers     int
}

type CryptoConfig struct {
	PBKDF2Iterations    int
	KeySize             int    // AES key size in bytes (32 = AES-256)
	HMACAlgo            string // "sha256" | "sha512"
	KeyCacheSize        int
	KeyCacheTTL         time.Duration
	RequireAuthOnAccess bool
}

func DefaultConfig() *Config {
	return &Config{
		RootDir:   "./data",
		IOTimeout: 10 * time.Second,
		Catalog: CatalogConfig{
			SaveDebounce: 500 * time.Millisecond,
		},
		Storage: StorageConfig{
			ChunkSizeThreshold: 4 * 1024 * 1024,
		},
		Cache: CacheConfig{
			Strategy:          "lru",
			MaxSize:           10000,
			DefaultExpiry:     5 * time.Minute,
			MaxMemoryUsage:    128 * 1024 * 1024,
			MemoryThreshold:   0.9,
			AvalancheJitterMS: 2000,
			PenetrationTTL:    30 * time.Second,
			EnablePenetration: true,
			EnableBreakdown:   true,
			EnableAvalanche:   true,
		},
		Query: QueryConfig{
			CountingSortMaxCardinalityFraction: 0.1,
			DefaultSortThreshold:               100,
		},
		AutoSync: AutoSyncConfig{
			Interval:    5 * time.Second,
			MinItems:    1,
			BatchSize:   100,
			MaxAttempts: 5,
			Workers:     4,
		},
		Crypto: CryptoConfig{
			PBKDF2Iterations: 100000,
			KeySize:          32,
			HMACAlgo:         "sha256",
			KeyCacheSize:     256,
			KeyCacheTTL:      10 * time.Minute,
		},
	}
}

// TestConfig returns a config tuned for fast, deterministic tests: short
// debounce/interval windows, cheap KDF iteration count.
func TestConfig(rootDir string) *Config {
	c := DefaultConfig()
	c.RootDir = rootDir
	c.Catalog.SaveDebounce = 5 * time.Millisecond
	c.AutoSync.Interval = 20 * time.Millisecond
	c.Crypto.PBKDF2Iterations = 10000
	return c
}
