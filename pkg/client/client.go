// Package client is the public embedder-facing facade (spec.md §6):
// a thin surface wrapping the transaction service, which wraps either
// the plaintext engine or the encrypted adapter depending on per-table
// configuration. Grounded on docdb's pkg/client package, which plays
// the same "thin wrapper with one constructor, delegating everything"
// role in front of LogicalDB.
package client

import (
	"sync"

	"github.com/kartikbazzad/ldbstore/internal/autosync"
	"github.com/kartikbazzad/ldbstore/internal/cache"
	"github.com/kartikbazzad/ldbstore/internal/catalog"
	"github.com/kartikbazzad/ldbstore/internal/config"
	"github.com/kartikbazzad/ldbstore/internal/crypto"
	"github.com/kartikbazzad/ldbstore/internal/document"
	"github.com/kartikbazzad/ldbstore/internal/encrypted"
	"github.com/kartikbazzad/ldbstore/internal/engine"
	"github.com/kartikbazzad/ldbstore/internal/errs"
	"github.com/kartikbazzad/ldbstore/internal/index"
	"github.com/kartikbazzad/ldbstore/internal/logger"
	"github.com/kartikbazzad/ldbstore/internal/metrics"
	"github.com/kartikbazzad/ldbstore/internal/query"
	"github.com/kartikbazzad/ldbstore/internal/txn"
)

type (
	Record            = document.Record
	ReadOptions       = engine.ReadOptions
	CreateOptions     = engine.CreateOptions
	BulkOp            = engine.BulkOp
	BulkOpType        = engine.BulkOpType
	BulkResult        = engine.BulkResult
	VerifyCountResult = engine.VerifyCountResult
	Direction         = query.Direction
	SortAlgorithm     = query.Algorithm
)

const (
	Asc  = query.Asc
	Desc = query.Desc

	BulkInsert = engine.BulkInsert
	BulkUpdate = engine.BulkUpdate
	BulkDelete = engine.BulkDelete
)

// Store is the embedder's entry point: one store per root directory.
type Store struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics

	eng  *engine.Engine
	tx   *txn.Service
	sync *autosync.Service
	cip  *crypto.Cipher
	keys *crypto.SessionKeyHolder

	encMu sync.Mutex
	enc   *encrypted.Adapter // lazily constructed, shared across tables
}

// Open constructs a store rooted at cfg.RootDir, starting its auto-sync
// loop immediately. provider may be nil if no table ever requests
// encryption.
func Open(cfg *config.Config, log *logger.Logger, provider crypto.MasterKeyProvider) (*Store, error) {
	if log == nil {
		log = logger.Default()
	}
	m := metrics.New()

	eng, err := engine.New(cfg, log, m)
	if err != nil {
		return nil, err
	}

	cip := crypto.New(crypto.Config{
		Iterations:   cfg.Crypto.PBKDF2Iterations,
		KeySize:      cfg.Crypto.KeySize,
		HMACAlgo:     crypto.HMACAlgo(cfg.Crypto.HMACAlgo),
		KeyCacheSize: cfg.Crypto.KeyCacheSize,
		KeyCacheTTL:  cfg.Crypto.KeyCacheTTL,
	})

	var keys *crypto.SessionKeyHolder
	if provider != nil {
		keys = crypto.NewSessionKeyHolder(provider, cfg.Crypto.RequireAuthOnAccess)
	}

	s := &Store{
		cfg:     cfg,
		log:     log,
		metrics: m,
		eng:     eng,
		tx:      txn.New(eng),
		cip:     cip,
		keys:    keys,
	}

	s.sync = autosync.New(eng, eng.Cache, cfg.AutoSync, log, m)
	s.sync.Start()
	return s, nil
}

// Close stops the auto-sync loop, flushes the catalog, and releases the
// crypto layer's janitor goroutine.
func (s *Store) Close() error {
	s.sync.Stop()
	s.cip.Close()
	return s.eng.Close()
}

func (s *Store) isEncrypted(table string) bool {
	schema, ok := s.eng.Catalog.Get(table)
	if !ok {
		return false
	}
	return schema.EncryptFullTable || len(schema.EncryptedFields) > 0
}

func (s *Store) CreateTable(name string, opts CreateOptions) error {
	if opts.EncryptFullTable || len(opts.EncryptedFields) > 0 {
		if s.keys == nil {
			return errs.New(errs.KeyDeriveFailed, "encryption requested but no master key provider configured")
		}
		return s.encryptedAdapter().CreateTable(name, opts, opts.EncryptFullTable)
	}
	return s.eng.CreateTable(name, opts)
}

func (s *Store) DeleteTable(name string) error { return s.eng.DeleteTable(name) }
func (s *Store) HasTable(name string) bool     { return s.eng.HasTable(name) }
func (s *Store) ListTables() []string          { return s.eng.ListTables() }

// encryptedAdapter lazily constructs the one shared *encrypted.Adapter
// this store keeps in front of its engine.
func (s *Store) encryptedAdapter() *encrypted.Adapter {
	s.encMu.Lock()
	defer s.encMu.Unlock()
	if s.enc == nil {
		s.enc = encrypted.New(s.eng, s.cip, s.keys)
	}
	return s.enc
}

// Insert always appends (spec.md §6).
func (s *Store) Insert(table string, records []Record) error {
	if s.tx.InTransaction() {
		return s.tx.Insert(table, records)
	}
	if s.isEncrypted(table) {
		return s.encryptedAdapter().Insert(table, records)
	}
	return s.eng.Insert(table, records)
}

// Overwrite always replaces (spec.md §6).
func (s *Store) Overwrite(table string, records []Record) error {
	if s.tx.InTransaction() {
		return s.tx.Overwrite(table, records)
	}
	if s.isEncrypted(table) {
		return s.encryptedAdapter().Overwrite(table, records)
	}
	return s.eng.Overwrite(table, records)
}

// Write is the deprecated compatibility shim (spec.md §6).
func (s *Store) Write(table string, records []Record, mode engine.WriteMode) error {
	if mode == engine.ModeOverwrite {
		return s.Overwrite(table, records)
	}
	return s.Insert(table, records)
}

func (s *Store) Read(table string, opts ReadOptions) ([]Record, error) {
	if s.tx.InTransaction() {
		view, err := s.tx.CurrentView(table)
		if err != nil {
			return nil, err
		}
		return applyReadOptions(view, opts), nil
	}
	if s.isEncrypted(table) {
		return s.encryptedAdapter().Read(table, opts)
	}
	return s.eng.Read(table, opts)
}

func applyReadOptions(records []Record, opts ReadOptions) []Record {
	matched := query.Apply(records, opts.Filter)
	if len(opts.SortBy) > 0 {
		fields := make([]query.SortField, len(opts.SortBy))
		for i, f := range opts.SortBy {
			dir := query.Asc
			if i < len(opts.Order) {
				dir = opts.Order[i]
			}
			fields[i] = query.SortField{Field: f, Direction: dir}
		}
		matched = query.Sort(matched, fields, opts.SortAlgorithm, 0.1, 1000)
	}
	return query.Paginate(matched, opts.Skip, opts.Limit)
}

func (s *Store) Count(table string) (int, error) {
	if s.tx.InTransaction() {
		view, err := s.tx.CurrentView(table)
		if err != nil {
			return 0, err
		}
		return len(view), nil
	}
	if s.isEncrypted(table) {
		return s.encryptedAdapter().Count(table)
	}
	return s.eng.Count(table)
}

func (s *Store) VerifyCount(table string) (VerifyCountResult, error) {
	return s.eng.VerifyCount(table)
}

func (s *Store) FindOne(table string, filter interface{}) (Record, bool, error) {
	if s.isEncrypted(table) {
		return s.encryptedAdapter().FindOne(table, filter)
	}
	return s.eng.FindOne(table, filter)
}

func (s *Store) FindMany(table string, opts ReadOptions) ([]Record, error) {
	return s.Read(table, opts)
}

func (s *Store) Update(table string, filter interface{}, mutate func(Record) Record) (int, error) {
	if s.tx.InTransaction() {
		return 0, s.tx.Update(table, filter, mutate)
	}
	if s.isEncrypted(table) {
		return s.encryptedAdapter().Update(table, filter, mutate)
	}
	return s.eng.Update(table, filter, mutate)
}

func (s *Store) Delete(table string, filter interface{}) (int, error) {
	if s.tx.InTransaction() {
		return 0, s.tx.Delete(table, filter)
	}
	if s.isEncrypted(table) {
		return s.encryptedAdapter().Delete(table, filter)
	}
	return s.eng.Delete(table, filter)
}

// Remove is the spec's alternate name for Delete.
func (s *Store) Remove(table string, filter interface{}) (int, error) { return s.Delete(table, filter) }

func (s *Store) ClearTable(table string) error {
	if s.isEncrypted(table) {
		return s.encryptedAdapter().ClearTable(table)
	}
	return s.eng.ClearTable(table)
}

func (s *Store) BulkWrite(table string, ops []BulkOp) (BulkResult, error) {
	if s.tx.InTransaction() {
		return BulkResult{}, s.tx.BulkWrite(table, ops)
	}
	return s.eng.BulkWrite(table, ops)
}

func (s *Store) MigrateToChunked(table string) error {
	return s.eng.MigrateToChunked(table)
}

func (s *Store) BeginTransaction() error { return s.tx.Begin() }
func (s *Store) Commit() error           { return s.tx.Commit() }
func (s *Store) Rollback() error         { return s.tx.Rollback() }

// CreateIndex exposes the index manager for callers that want an
// equality-lookup fast path on a field (spec.md §4.5).
func (s *Store) CreateIndex(table, field string, unique bool) error {
	kind := index.Normal
	if unique {
		kind = index.Unique
	}
	records, err := s.eng.Read(table, engine.ReadOptions{BypassCache: true})
	if err != nil {
		return err
	}
	return s.eng.Index.CreateIndex(table, field, kind, records)
}

// Cache exposes read-only stats for diagnostics.
func (s *Store) CacheStats() cache.Stats { return s.eng.Cache.GetStats() }

// ErrorHistory exposes the engine's recent-error ring buffer.
func (s *Store) ErrorHistory() []*errs.Error { return s.eng.ErrTracker.Recent() }

// Mode re-exports the catalog's storage-mode enum for embedders that
// pass an explicit mode to CreateOptions.
type Mode = catalog.Mode

const (
	ModeSingle  = catalog.ModeSingle
	ModeChunked = catalog.ModeChunked
)
