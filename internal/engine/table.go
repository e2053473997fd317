package engine

import (
	"github.com/dustin/go-humanize"

	"github.com/kartikbazzad/ldbstore/internal/catalog"
	"github.com/kartikbazzad/ldbstore/internal/document"
	"github.com/kartikbazzad/ldbstore/internal/storage"
)

// CreateTable registers a new table and, when InitialData is supplied,
// writes it immediately. Mode defaults to single-file unless the
// initial data's estimated size exceeds half the chunking threshold
// (spec.md §4.3).
func (e *Engine) CreateTable(table string, opts CreateOptions) error {
	if err := ValidateTableName(table); err != nil {
		return e.recordError(err)
	}
	lock := e.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	// createTable is idempotent: a second call for an existing table is
	// a safe no-op rather than an error (spec.md §4.3).
	if e.HasTable(table) {
		return nil
	}

	mode := opts.Mode
	if mode == "" {
		mode = catalog.ModeSingle
		if should, err := storage.ShouldChunk(opts.InitialData, e.cfg.Storage.ChunkSizeThreshold); err == nil && should {
			mode = catalog.ModeChunked
			e.log.Info("table %s starts chunked: initial data exceeds half of the %s chunk threshold",
				table, humanize.Bytes(uint64(e.cfg.Storage.ChunkSizeThreshold)))
		}
	}

	path := e.singlePath(table)
	if mode == catalog.ModeChunked {
		path = e.chunkedPath(table)
	}

	if err := e.Index.ValidateUnique(table, opts.InitialData); err != nil {
		return e.recordError(err)
	}

	if err := e.writeAll(table, mode, opts.InitialData); err != nil {
		return e.recordError(err)
	}

	e.Catalog.Update(table, func(s *catalog.TableSchema) {
		s.Mode = mode
		s.Path = path
		s.Count = len(opts.InitialData)
		s.Columns = opts.Columns
		s.IsHighRisk = opts.IsHighRisk
		s.EncryptedFields = opts.EncryptedFields
	})

	for _, rec := range opts.InitialData {
		if err := e.Index.OnInsert(table, rec); err != nil {
			return e.recordError(err)
		}
	}

	return nil
}

// DeleteTable removes the catalog entry, the underlying file(s), every
// index built on the table, and any cached entries.
func (e *Engine) DeleteTable(table string) error {
	lock := e.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	schema, ok := e.Catalog.Get(table)
	if !ok {
		// deleteTable is idempotent: deleting an already-absent table is
		// a safe no-op (spec.md §4.3).
		return nil
	}

	var err error
	if schema.Mode == catalog.ModeChunked {
		err = e.chunkedHandler(table).Delete()
	} else {
		err = e.singleHandler(table).Delete()
	}
	if err != nil {
		return e.recordError(err)
	}

	e.Catalog.Delete(table)
	e.Index.DropTable(table)
	e.invalidateTable(table)
	return nil
}

// ListTables is defined in engine.go; HasTable likewise.

// document re-exported for callers that only import engine.
type Record = document.Record
