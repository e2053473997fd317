package query

import (
	"fmt"

	"github.com/kartikbazzad/ldbstore/internal/document"
)

// Sum, Avg, Min, Max implement spec.md §4.4's aggregation primitives.
// Empty input yields the documented numeric identity: sum=0, avg=0,
// min=max=undefined (ok=false).

func Sum(records []document.Record, field string) float64 {
	var total float64
	for _, r := range records {
		if v, ok := r.Get(field); ok {
			if n, isNum := v.Number(); isNum {
				total += n
			}
		}
	}
	return total
}

func Avg(records []document.Record, field string) float64 {
	var total float64
	var count int
	for _, r := range records {
		if v, ok := r.Get(field); ok {
			if n, isNum := v.Number(); isNum {
				total += n
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func Min(records []document.Record, field string) (document.Value, bool) {
	var min document.Value
	found := false
	for _, r := range records {
		v, ok := r.Get(field)
		if !ok {
			continue
		}
		if !found || document.Compare(v, min) < 0 {
			min = v
			found = true
		}
	}
	return min, found
}

func Max(records []document.Record, field string) (document.Value, bool) {
	var max document.Value
	found := false
	for _, r := range records {
		v, ok := r.Get(field)
		if !ok {
			continue
		}
		if !found || document.Compare(v, max) > 0 {
			max = v
			found = true
		}
	}
	return max, found
}

// Group is one bucket of GroupBy's result.
type Group struct {
	Key     []document.Value
	Records []document.Record
}

// GroupBy groups records by the value(s) of one or more fields,
// preserving first-seen group order.
func GroupBy(records []document.Record, fields []string) []Group {
	order := make([]string, 0)
	groups := make(map[string]*Group)

	for _, r := range records {
		key := make([]document.Value, len(fields))
		for i, f := range fields {
			v, ok := r.Get(f)
			if !ok {
				v = document.Null()
			}
			key[i] = v
		}
		k := groupKeyString(key)
		g, exists := groups[k]
		if !exists {
			g = &Group{Key: key}
			groups[k] = g
			order = append(order, k)
		}
		g.Records = append(g.Records, r)
	}

	out := make([]Group, 0, len(order))
	for _, k := range order {
		out = append(out, *groups[k])
	}
	return out
}

func groupKeyString(key []document.Value) string {
	s := ""
	for _, v := range key {
		s += fmt.Sprintf("%v\x00", v.Raw())
	}
	return s
}
