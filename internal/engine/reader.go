package engine

import (
	"github.com/kartikbazzad/ldbstore/internal/cache"
	"github.com/kartikbazzad/ldbstore/internal/catalog"
	"github.com/kartikbazzad/ldbstore/internal/document"
	"github.com/kartikbazzad/ldbstore/internal/errs"
	"github.com/kartikbazzad/ldbstore/internal/query"
)

// loadTable returns every record currently stored for table, trying the
// cache's full-table entry first unless bypassed (spec.md §4.7).
func (e *Engine) loadTable(table string, bypassCache bool) ([]document.Record, error) {
	key := cache.ByQueryKey(table, "all")
	if !bypassCache {
		if v, isNull, found := e.Cache.Get(key); found && !isNull {
			if recs, ok := v.([]document.Record); ok {
				return recs, nil
			}
		}
	}

	records, _, err := e.readAllStrict(table)
	if err != nil {
		return nil, err
	}

	if !bypassCache {
		if err := e.Cache.Set(key, records, 0, false); err != nil {
			e.log.Warn("cache eviction exhausted for table %s: %v", table, err)
		}
		e.trackCacheKey(table, key)
	}
	return records, nil
}

// Read runs the cache-check -> index-narrow -> filter -> sort -> paginate
// pipeline described by spec.md §4.7. This is a soft call (spec.md §7):
// a table that was never created returns an empty slice rather than
// TABLE_NOT_FOUND, unlike the strict calls (Count, VerifyCount,
// MigrateToChunked).
func (e *Engine) Read(table string, opts ReadOptions) ([]document.Record, error) {
	if !e.HasTable(table) {
		return []document.Record{}, nil
	}

	resultKey := cache.ByQueryKey(table, opts.Fingerprint())
	if !opts.BypassCache {
		if v, isNull, found := e.Cache.Get(resultKey); found {
			if isNull {
				return []document.Record{}, nil
			}
			if recs, ok := v.([]document.Record); ok {
				return recs, nil
			}
		}
	}

	records, err := e.narrowByIndex(table, opts.Filter)
	if err != nil {
		return nil, e.recordError(err)
	}
	if records == nil {
		all, err := e.loadTable(table, opts.BypassCache)
		if err != nil {
			return nil, e.recordError(err)
		}
		records = query.Apply(all, opts.Filter)
	}

	if len(opts.SortBy) > 0 {
		fields := make([]query.SortField, len(opts.SortBy))
		for i, f := range opts.SortBy {
			dir := query.Asc
			if i < len(opts.Order) {
				dir = opts.Order[i]
			}
			fields[i] = query.SortField{Field: f, Direction: dir}
		}
		records = query.Sort(records, fields, opts.SortAlgorithm,
			e.cfg.Query.CountingSortMaxCardinalityFraction, e.cfg.Query.DefaultSortThreshold)
	}

	records = query.Paginate(records, opts.Skip, opts.Limit)

	if !opts.BypassCache {
		var cacheErr error
		if len(records) == 0 {
			cacheErr = e.Cache.SetNull(resultKey)
		} else {
			cacheErr = e.Cache.Set(resultKey, records, e.cfg.Cache.DefaultExpiry, false)
		}
		if cacheErr != nil {
			e.log.Warn("cache eviction exhausted for table %s: %v", table, cacheErr)
		}
		e.trackCacheKey(table, resultKey)
	}
	return records, nil
}

// narrowByIndex attempts to resolve an equality filter against a single
// indexed field directly via the index manager, skipping a full-table
// scan. Returns nil, nil when the filter shape doesn't qualify, meaning
// the caller should fall back to the full-scan path.
func (e *Engine) narrowByIndex(table string, filter interface{}) ([]document.Record, error) {
	m, ok := filter.(map[string]interface{})
	if !ok || len(m) != 1 {
		return nil, nil
	}
	for field, raw := range m {
		if field == "$and" || field == "$or" {
			return nil, nil
		}
		if _, isMap := raw.(map[string]interface{}); isMap {
			return nil, nil // operator filter, not a bare equality
		}
		if !e.Index.HasIndex(table, field) {
			return nil, nil
		}
		ids, ok := e.Index.Lookup(table, field, document.FromRaw(raw))
		if !ok {
			return []document.Record{}, nil
		}
		all, err := e.loadTable(table, false)
		if err != nil {
			return nil, err
		}
		want := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			want[id] = struct{}{}
		}
		out := make([]document.Record, 0, len(ids))
		for _, rec := range all {
			if idStr, ok := rec.IDString(); ok {
				if _, match := want[idStr]; match {
					out = append(out, rec)
				}
			}
		}
		return out, nil
	}
	return nil, nil
}

// Count returns the number of records currently stored, reading the
// file fresh (never the cache) so it can't drift from VerifyCount.
func (e *Engine) Count(table string) (int, error) {
	records, _, err := e.readAllStrict(table)
	if err != nil {
		return 0, e.recordError(err)
	}
	return len(records), nil
}

// VerifyCount compares the catalog's recorded count against an actual
// file read and reports both. On a mismatch it also rewrites the
// catalog's count to the actual value, so the next call matches.
func (e *Engine) VerifyCount(table string) (VerifyCountResult, error) {
	schema, ok := e.Catalog.Get(table)
	if !ok {
		return VerifyCountResult{}, e.recordError(errs.New(errs.TableNotFound, "table not found").WithDetail("table", table))
	}
	actual, err := e.Count(table)
	if err != nil {
		return VerifyCountResult{}, err
	}
	result := VerifyCountResult{Metadata: schema.Count, Actual: actual, Match: schema.Count == actual}
	if !result.Match {
		e.Catalog.Update(table, func(s *catalog.TableSchema) { s.Count = actual })
	}
	return result, nil
}

// FindOne returns the first record matching filter, or ok=false.
func (e *Engine) FindOne(table string, filter interface{}) (document.Record, bool, error) {
	records, err := e.Read(table, ReadOptions{Filter: filter, Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	return records[0], true, nil
}

// FindMany is Read under a name that mirrors the public API's verb.
func (e *Engine) FindMany(table string, opts ReadOptions) ([]document.Record, error) {
	return e.Read(table, opts)
}
