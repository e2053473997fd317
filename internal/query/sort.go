package query

import (
	"sort"
	"strconv"

	"github.com/kartikbazzad/ldbstore/internal/document"
)

type Direction int

const (
	Asc Direction = iota
	Desc
)

type SortField struct {
	Field     string
	Direction Direction
}

type Algorithm string

const (
	AlgoDefault  Algorithm = "default"
	AlgoCounting Algorithm = "counting"
	AlgoMerge    Algorithm = "merge"
	AlgoFast     Algorithm = "fast"
	AlgoSlow     Algorithm = "slow"
)

// compareRecords compares two records across fields. Missing fields and
// null values sort last in both directions; only the other values are
// ordered by each field's Direction.
func compareRecords(a, b document.Record, fields []SortField) int {
	for _, f := range fields {
		av, aok := a.Get(f.Field)
		bv, bok := b.Get(f.Field)
		aNull := !aok || av.Kind() == document.KindNull
		bNull := !bok || bv.Kind() == document.KindNull
		var cmp int
		switch {
		case aNull && bNull:
			cmp = 0
		case aNull:
			return 1
		case bNull:
			return -1
		default:
			cmp = document.Compare(av, bv)
		}
		if f.Direction == Desc {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}

// Sort stably sorts records by the given fields, selecting an algorithm
// by size/cardinality per spec.md §4.4 when algo is ""; any explicit
// algo, AlgoDefault included, is honored as a request, since "fast"/
// "slow" exist purely for benchmarking and diagnostics.
func Sort(records []document.Record, fields []SortField, algo Algorithm, countingFraction float64, defaultThreshold int) []document.Record {
	if len(fields) == 0 {
		return records
	}

	chosen := algo
	if chosen == "" {
		chosen = selectAlgorithm(records, fields, countingFraction, defaultThreshold)
	}

	out := make([]document.Record, len(records))
	copy(out, records)

	switch chosen {
	case AlgoCounting:
		if sorted, ok := countingSort(out, fields[0]); ok {
			return sorted
		}
		fallthrough
	case AlgoMerge:
		mergeSortRecords(out, fields)
		return out
	case AlgoSlow:
		bubbleSortRecords(out, fields)
		return out
	default: // AlgoDefault, AlgoFast
		sort.SliceStable(out, func(i, j int) bool {
			return compareRecords(out[i], out[j], fields) < 0
		})
		return out
	}
}

func selectAlgorithm(records []document.Record, fields []SortField, countingFraction float64, defaultThreshold int) Algorithm {
	if len(records) < defaultThreshold {
		return AlgoDefault
	}
	if len(fields) == 1 {
		unique := make(map[string]struct{})
		sample := records
		if len(sample) > 200 {
			sample = sample[:200]
		}
		for _, r := range sample {
			v, ok := r.Get(fields[0].Field)
			if !ok {
				continue
			}
			if n, isNum := v.Number(); isNum {
				unique[strconv.FormatFloat(n, 'g', -1, 64)] = struct{}{}
			} else if s, isStr := v.String(); isStr {
				unique[s] = struct{}{}
			}
		}
		if float64(len(unique)) < countingFraction*float64(len(sample)) {
			return AlgoCounting
		}
	}
	return AlgoMerge
}

// countingSort handles the common bounded-range-integer / enum case: a
// single field whose sampled unique-value count is small relative to
// data size. Falls back (ok=false) whenever values are not all numeric
// integers in a small range, letting the caller fall through to merge.
func countingSort(records []document.Record, field SortField) ([]document.Record, bool) {
	values := make([]int, len(records))
	min, max := 0, 0
	for i, r := range records {
		v, ok := r.Get(field.Field)
		if !ok {
			return nil, false
		}
		n, isNum := v.Number()
		if !isNum || n != float64(int(n)) {
			return nil, false
		}
		iv := int(n)
		values[i] = iv
		if i == 0 || iv < min {
			min = iv
		}
		if i == 0 || iv > max {
			max = iv
		}
	}
	span := max - min + 1
	if span <= 0 || span > 10*len(records)+16 {
		return nil, false
	}

	buckets := make([][]document.Record, span)
	for i, r := range records {
		idx := values[i] - min
		buckets[idx] = append(buckets[idx], r)
	}

	out := make([]document.Record, 0, len(records))
	if field.Direction == Asc {
		for _, b := range buckets {
			out = append(out, b...)
		}
	} else {
		for i := len(buckets) - 1; i >= 0; i-- {
			out = append(out, buckets[i]...)
		}
	}
	return out, true
}

// mergeSortRecords is a standard stable top-down merge sort, used for
// larger datasets and multi-field sorts (spec.md §4.4).
func mergeSortRecords(records []document.Record, fields []SortField) {
	n := len(records)
	if n < 2 {
		return
	}
	buf := make([]document.Record, n)
	var sortRange func(lo, hi int)
	sortRange = func(lo, hi int) {
		if hi-lo < 2 {
			return
		}
		mid := (lo + hi) / 2
		sortRange(lo, mid)
		sortRange(mid, hi)
		i, j, k := lo, mid, lo
		for i < mid && j < hi {
			if compareRecords(records[i], records[j], fields) <= 0 {
				buf[k] = records[i]
				i++
			} else {
				buf[k] = records[j]
				j++
			}
			k++
		}
		for i < mid {
			buf[k] = records[i]
			i++
			k++
		}
		for j < hi {
			buf[k] = records[j]
			j++
			k++
		}
		copy(records[lo:hi], buf[lo:hi])
	}
	sortRange(0, n)
}

// bubbleSortRecords exists for diagnostics/benchmarking (spec.md
// §4.4's "slow" algorithm), never chosen automatically.
func bubbleSortRecords(records []document.Record, fields []SortField) {
	n := len(records)
	for i := 0; i < n; i++ {
		for j := 0; j < n-i-1; j++ {
			if compareRecords(records[j], records[j+1], fields) > 0 {
				records[j], records[j+1] = records[j+1], records[j]
			}
		}
	}
}

// Paginate applies skip/limit with the short-circuits spec.md §4.4
// names: skip >= length returns empty; skip=0,limit>=length returns the
// input unmodified.
func Paginate(records []document.Record, skip, limit int) []document.Record {
	n := len(records)
	if skip >= n {
		return []document.Record{}
	}
	if skip == 0 && (limit <= 0 || limit >= n) {
		return records
	}
	end := n
	if limit > 0 && skip+limit < n {
		end = skip + limit
	}
	return records[skip:end]
}
