// Package catalog implements the engine's single persisted map of table
// name to schema (spec.md §3, §4.1). Grounded on docdb's
// internal/catalog package: same mutex-guarded in-memory map loaded
// once at startup plus a debounced, coalesced save, but JSON (spec.md
// §6 mandates a pretty-printed meta.ldb) rather than docdb's packed
// binary entry format, because this catalog has no fixed-width fields —
// TableSchema is a variable-shape document.
package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kartikbazzad/ldbstore/internal/errs"
	"github.com/kartikbazzad/ldbstore/internal/logger"
)

const CatalogVersion = "1"
const CatalogFileName = "meta.ldb"

type Mode string

const (
	ModeSingle  Mode = "single"
	ModeChunked Mode = "chunked"
)

type IndexKind string

const (
	IndexUnique IndexKind = "unique"
	IndexNormal IndexKind = "normal"
)

type ColumnHint struct {
	Type       string `json:"type"`
	IsHighRisk bool   `json:"isHighRisk,omitempty"`
}

// TableSchema is the per-table entry in the catalog document (spec.md §3).
type TableSchema struct {
	Mode      Mode   `json:"mode"`
	Path      string `json:"path"`
	Count     int    `json:"count"`
	Size      int64  `json:"size,omitempty"`
	Chunks    int    `json:"chunks,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Columns map[string]ColumnHint `json:"columns,omitempty"`

	Indexes map[string]IndexKind `json:"indexes,omitempty"`

	IsHighRisk      bool     `json:"isHighRisk,omitempty"`
	HighRiskFields  []string `json:"highRiskFields,omitempty"`
	EncryptedFields []string `json:"encryptedFields,omitempty"`
	EncryptFullTable bool    `json:"encryptFullTable,omitempty"`
}

func (s *TableSchema) Clone() *TableSchema {
	if s == nil {
		return nil
	}
	c := *s
	if s.Columns != nil {
		c.Columns = make(map[string]ColumnHint, len(s.Columns))
		for k, v := range s.Columns {
			c.Columns[k] = v
		}
	}
	if s.Indexes != nil {
		c.Indexes = make(map[string]IndexKind, len(s.Indexes))
		for k, v := range s.Indexes {
			c.Indexes[k] = v
		}
	}
	if s.HighRiskFields != nil {
		c.HighRiskFields = append([]string(nil), s.HighRiskFields...)
	}
	if s.EncryptedFields != nil {
		c.EncryptedFields = append([]string(nil), s.EncryptedFields...)
	}
	return &c
}

// document is the on-disk shape of meta.ldb.
type document struct {
	Version     string                  `json:"version"`
	GeneratedAt time.Time               `json:"generatedAt"`
	Tables      map[string]*TableSchema `json:"tables"`
}

// Catalog is the single persisted map from table name to TableSchema.
// Only this type mutates it (spec.md §3 invariant).
type Catalog struct {
	mu   sync.RWMutex
	path string
	log  *logger.Logger

	tables map[string]*TableSchema

	dirty      bool
	saveDelay  time.Duration
	saveTimer  *time.Timer
	saveMu     sync.Mutex // serializes the actual save() call
	loaded     chan struct{}
	loadedOnce sync.Once
}

func New(rootDir string, saveDelay time.Duration, log *logger.Logger) *Catalog {
	return &Catalog{
		path:      filepath.Join(rootDir, CatalogFileName),
		log:       log,
		tables:    make(map[string]*TableSchema),
		saveDelay: saveDelay,
		loaded:    make(chan struct{}),
	}
}

// Load reads meta.ldb if present. An unreadable or corrupt catalog is
// not fatal: the engine rebuilds an empty catalog and continues
// (spec.md §4.1); individual table files remain on disk but will only
// resurface via Rediscover.
func (c *Catalog) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return errs.Wrap(errs.FileWriteFailed, "create root directory", err)
	}

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		c.markLoaded()
		return nil
	}
	if err != nil {
		c.log.Warn("catalog unreadable, starting empty: %v", err)
		c.markLoaded()
		return nil
	}

	var doc document
	if jsonErr := json.Unmarshal(data, &doc); jsonErr != nil {
		c.log.Warn("catalog corrupt, rebuilding empty: %v", jsonErr)
		c.markLoaded()
		return nil
	}

	if doc.Tables != nil {
		c.tables = doc.Tables
	}
	c.log.Info("catalog loaded: %d tables", len(c.tables))
	c.markLoaded()
	return nil
}

func (c *Catalog) markLoaded() {
	c.loadedOnce.Do(func() { close(c.loaded) })
}

// WaitForLoad blocks until Load has completed (or returns immediately
// if it already has).
func (c *Catalog) WaitForLoad() { <-c.loaded }

func (c *Catalog) Get(table string) (*TableSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.tables[table]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (c *Catalog) AllTables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	return names
}

func (c *Catalog) Count(table string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.tables[table]
	if !ok {
		return 0, false
	}
	return s.Count, true
}

// Update merges partial into the table's schema (creating it if absent)
// and stamps UpdatedAt, then schedules a debounced save.
func (c *Catalog) Update(table string, mutate func(s *TableSchema)) *TableSchema {
	c.mu.Lock()
	s, ok := c.tables[table]
	if !ok {
		s = &TableSchema{CreatedAt: time.Now()}
		c.tables[table] = s
	}
	mutate(s)
	s.UpdatedAt = time.Now()
	out := s.Clone()
	c.dirty = true
	c.mu.Unlock()

	c.scheduleSave()
	return out
}

func (c *Catalog) Delete(table string) {
	c.mu.Lock()
	delete(c.tables, table)
	c.dirty = true
	c.mu.Unlock()
	c.scheduleSave()
}

func (c *Catalog) scheduleSave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveTimer != nil {
		c.saveTimer.Stop()
	}
	c.saveTimer = time.AfterFunc(c.saveDelay, func() {
		if err := c.save(); err != nil {
			c.log.Error("catalog save failed: %v", err)
		}
	})
}

// SaveImmediately cancels any pending debounced save and writes now.
func (c *Catalog) SaveImmediately() error {
	c.mu.Lock()
	if c.saveTimer != nil {
		c.saveTimer.Stop()
		c.saveTimer = nil
	}
	c.mu.Unlock()
	return c.save()
}

func (c *Catalog) save() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.RLock()
	doc := document{
		Version:     CatalogVersion,
		GeneratedAt: time.Now(),
		Tables:      make(map[string]*TableSchema, len(c.tables)),
	}
	for k, v := range c.tables {
		doc.Tables[k] = v
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errs.Wrap(errs.FileWriteFailed, "marshal catalog", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errs.Wrap(errs.FileWriteFailed, "write catalog temp file", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return errs.Wrap(errs.FileWriteFailed, "rename catalog temp file", err)
	}

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	return nil
}

// Cleanup cancels any pending save timer without flushing it, used on
// shutdown after a final SaveImmediately.
func (c *Catalog) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveTimer != nil {
		c.saveTimer.Stop()
		c.saveTimer = nil
	}
}

// Rediscover walks rootDir for *.ldb files and directories not already
// cataloged and synthesizes minimal entries for them. Best-effort, not
// run automatically (spec.md §4.1).
func (c *Catalog) Rediscover(rootDir string) error {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return errs.Wrap(errs.FileReadFailed, "read root directory", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range entries {
		name := e.Name()
		if name == CatalogFileName {
			continue
		}
		var table string
		var mode Mode
		if e.IsDir() {
			table = name
			mode = ModeChunked
		} else if filepath.Ext(name) == ".ldb" {
			table = name[:len(name)-len(".ldb")]
			mode = ModeSingle
		} else {
			continue
		}
		if _, exists := c.tables[table]; exists {
			continue
		}
		c.tables[table] = &TableSchema{
			Mode:      mode,
			Path:      filepath.Join(rootDir, name),
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
	}
	c.dirty = true
	return nil
}
