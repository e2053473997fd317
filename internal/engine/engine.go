package engine

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/kartikbazzad/ldbstore/internal/cache"
	"github.com/kartikbazzad/ldbstore/internal/catalog"
	"github.com/kartikbazzad/ldbstore/internal/config"
	"github.com/kartikbazzad/ldbstore/internal/document"
	"github.com/kartikbazzad/ldbstore/internal/errs"
	"github.com/kartikbazzad/ldbstore/internal/index"
	"github.com/kartikbazzad/ldbstore/internal/logger"
	"github.com/kartikbazzad/ldbstore/internal/metrics"
	"github.com/kartikbazzad/ldbstore/internal/storage"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// ValidateTableName enforces spec.md §4.8: non-empty, no whitespace-only,
// and (as the "optional strict regex at API boundary") restricted to a
// conservative filesystem-safe character set.
func ValidateTableName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return errs.New(errs.TableNameInvalid, "table name must not be empty or whitespace")
	}
	if !tableNamePattern.MatchString(name) {
		return errs.New(errs.TableNameInvalid, "table name contains disallowed characters").
			WithDetail("name", name).WithSuggestion("use only letters, digits, underscore, and hyphen")
	}
	return nil
}

// Engine is the plaintext storage engine: Data Reader + Data Writer
// combined (spec.md §4.7/§4.8), holding the catalog, cache, and index
// manager and resolving single-file vs chunked handlers per table.
type Engine struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics

	Catalog *catalog.Catalog
	Cache   *cache.Cache
	Index   *index.Manager

	ErrTracker *errs.Tracker

	tableLocks sync.Map // string -> *sync.Mutex

	cacheKeysMu sync.Mutex
	cacheKeys   map[string]map[string]struct{} // table -> set of cache keys we've populated
}

func New(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*Engine, error) {
	cat := catalog.New(cfg.RootDir, cfg.Catalog.SaveDebounce, log)
	if err := cat.Load(); err != nil {
		return nil, err
	}

	c := cache.New(cache.Config{
		Strategy:          cache.Strategy(cfg.Cache.Strategy),
		MaxSize:           cfg.Cache.MaxSize,
		DefaultExpiry:     cfg.Cache.DefaultExpiry,
		MaxMemoryUsage:    cfg.Cache.MaxMemoryUsage,
		MemoryThreshold:   cfg.Cache.MemoryThreshold,
		AvalancheJitterMS: cfg.Cache.AvalancheJitterMS,
		PenetrationTTL:    cfg.Cache.PenetrationTTL,
		EnablePenetration: cfg.Cache.EnablePenetration,
		EnableBreakdown:   cfg.Cache.EnableBreakdown,
		EnableAvalanche:   cfg.Cache.EnableAvalanche,
	}, m)

	return &Engine{
		cfg:        cfg,
		log:        log,
		metrics:    m,
		Catalog:    cat,
		Cache:      c,
		Index:      index.NewManager(),
		ErrTracker: errs.NewTracker(256),
		cacheKeys:  make(map[string]map[string]struct{}),
	}, nil
}

func (e *Engine) tableLock(table string) *sync.Mutex {
	v, _ := e.tableLocks.LoadOrStore(table, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (e *Engine) singlePath(table string) string {
	return filepath.Join(e.cfg.RootDir, table+".ldb")
}

func (e *Engine) chunkedPath(table string) string {
	return filepath.Join(e.cfg.RootDir, table)
}

func (e *Engine) singleHandler(table string) *storage.SingleFileHandler {
	return storage.NewSingleFileHandler(e.singlePath(table), e.cfg.IOTimeout, e.log)
}

func (e *Engine) chunkedHandler(table string) *storage.ChunkedHandler {
	return storage.NewChunkedHandler(e.chunkedPath(table), e.cfg.Storage.ChunkSizeThreshold, e.cfg.IOTimeout, e.log)
}

// recordError funnels every *errs.Error through the tracker before
// returning it, so the health-surface collaborator (out of scope here)
// has something to read.
func (e *Engine) recordError(err error) error {
	if ee, ok := err.(*errs.Error); ok {
		e.ErrTracker.Record(ee)
	}
	return err
}

// readAllSoft reads the full current record set for a table via whichever
// handler its catalog mode names, without going through cache/index/
// filter. Used by both the reader (on cache miss) and the writer
// (read-mutate-writeback path, spec.md §4.8).
func (e *Engine) readAllSoft(table string) ([]document.Record, catalog.Mode, error) {
	schema, ok := e.Catalog.Get(table)
	if !ok {
		return []document.Record{}, catalog.ModeSingle, nil
	}
	if schema.Mode == catalog.ModeChunked {
		recs, err := e.chunkedHandler(table).ReadAll()
		return recs, catalog.ModeChunked, err
	}
	recs, err := e.singleHandler(table).ReadSoft()
	return recs, catalog.ModeSingle, err
}

func (e *Engine) readAllStrict(table string) ([]document.Record, catalog.Mode, error) {
	schema, ok := e.Catalog.Get(table)
	if !ok {
		return nil, catalog.ModeSingle, errs.New(errs.TableNotFound, "table not found").WithDetail("table", table)
	}
	if schema.Mode == catalog.ModeChunked {
		recs, err := e.chunkedHandler(table).ReadAll()
		return recs, catalog.ModeChunked, err
	}
	recs, err := e.singleHandler(table).ReadStrict()
	return recs, catalog.ModeSingle, err
}

func (e *Engine) writeAll(table string, mode catalog.Mode, records []document.Record) error {
	if mode == catalog.ModeChunked {
		return e.chunkedHandler(table).Write(records)
	}
	return e.singleHandler(table).Write(records)
}

// invalidateTable invalidates every cache key this engine has recorded
// for a table, falling back to a full prefix clear if the registry is
// empty (spec.md §4.8).
func (e *Engine) invalidateTable(table string) {
	e.cacheKeysMu.Lock()
	keys := e.cacheKeys[table]
	delete(e.cacheKeys, table)
	e.cacheKeysMu.Unlock()

	if len(keys) == 0 {
		e.Cache.DeletePrefix(table + "_")
		return
	}
	for k := range keys {
		e.Cache.Delete(k)
	}
}

func (e *Engine) trackCacheKey(table, key string) {
	e.cacheKeysMu.Lock()
	defer e.cacheKeysMu.Unlock()
	set, ok := e.cacheKeys[table]
	if !ok {
		set = make(map[string]struct{})
		e.cacheKeys[table] = set
	}
	set[key] = struct{}{}
}

// HasTable reports whether a catalog entry exists for the table.
func (e *Engine) HasTable(table string) bool {
	_, ok := e.Catalog.Get(table)
	return ok
}

// ListTables returns every table name the catalog currently records.
func (e *Engine) ListTables() []string {
	return e.Catalog.AllTables()
}

// Close flushes the catalog and stops background timers.
func (e *Engine) Close() error {
	err := e.Catalog.SaveImmediately()
	e.Catalog.Cleanup()
	return err
}
