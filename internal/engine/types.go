// Package engine implements the plaintext storage engine: the Data
// Reader and Data Writer combined into one type that owns the catalog,
// cache, index manager, and per-table file handlers (spec.md §4.7,
// §4.8). Structured the way docdb's LogicalDB is structured — one
// struct holding pointers to its collaborators, constructed once and
// passed around by pointer — generalized from docdb's WAL+datafile
// write path to this spec's simpler "read all, mutate in memory, write
// back in overwrite mode" model (spec.md §4.8).
package engine

import (
	"encoding/json"

	"github.com/kartikbazzad/ldbstore/internal/catalog"
	"github.com/kartikbazzad/ldbstore/internal/document"
	"github.com/kartikbazzad/ldbstore/internal/query"
)

// CreateOptions configures CreateTable (spec.md §6 public API).
type CreateOptions struct {
	Columns          map[string]catalog.ColumnHint
	InitialData      []document.Record
	Mode             catalog.Mode // "" = choose by heuristic
	EncryptedFields  []string
	EncryptFullTable bool
	IsHighRisk       bool
}

type WriteMode string

const (
	ModeAppend    WriteMode = "append"
	ModeOverwrite WriteMode = "overwrite"
)

// ReadOptions configures Read/FindMany (spec.md §6).
type ReadOptions struct {
	Filter        interface{}
	Skip          int
	Limit         int
	SortBy        []string
	Order         []query.Direction
	SortAlgorithm query.Algorithm
	BypassCache   bool
}

// Fingerprint renders ReadOptions into a stable string for cache-key
// construction, deliberately excluding BypassCache (a bypassing read
// never reaches the cache key builder).
func (o ReadOptions) Fingerprint() string {
	s := ""
	if o.Filter != nil {
		s += "f:" + mapFingerprint(o.Filter)
	}
	s += ";skip:" + itoa(o.Skip) + ";limit:" + itoa(o.Limit)
	for i, f := range o.SortBy {
		dir := "asc"
		if i < len(o.Order) && o.Order[i] == query.Desc {
			dir = "desc"
		}
		s += ";sort:" + f + ":" + dir
	}
	return s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func mapFingerprint(v interface{}) string {
	// encoding/json sorts map keys alphabetically, so this is stable
	// across calls regardless of the input map's iteration order.
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

type VerifyCountResult struct {
	Metadata int
	Actual   int
	Match    bool
}

type BulkOpType string

const (
	BulkInsert BulkOpType = "insert"
	BulkUpdate BulkOpType = "update"
	BulkDelete BulkOpType = "delete"
)

type BulkOp struct {
	Type  BulkOpType
	Data  interface{} // document.Record for insert/update
	Where interface{} // filter for update/delete
}

type BulkResult struct {
	Written int
	Updated int
	Deleted int
}
