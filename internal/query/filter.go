// Package query implements the engine's filter planner, multi-algorithm
// sorter, pagination, and aggregation (spec.md §4.4). The sort
// comparison helpers are ported from docdb's internal/query package
// (compareValuesForOrder, extractField in merge.go), generalized from a
// single-field k-way-merge comparator into the general multi-field
// Sort used here; the filter planner and aggregation have no docdb
// analogue (docdb's query package only merges partition streams) and
// are grounded instead on spec.md §4.4's own operator/shape list.
package query

import (
	"strings"

	"github.com/kartikbazzad/ldbstore/internal/document"
)

// Filter is the raw-map filter form spec.md §4.4 describes:
// $and/$or/field-equality/operators. Func is the predicate-function
// form; Plan accepts either (or nil) and turns it into a Node tree.
type Filter = map[string]interface{}

// Func is the "predicate function" filter form.
type Func func(r document.Record) bool

// Node is the planned filter tree: FuncNode | OrNode | AndNode |
// OperatorNode (spec.md §4.4).
type Node interface {
	Eval(r document.Record) bool
}

type FuncNode struct{ Fn Func }

func (n FuncNode) Eval(r document.Record) bool { return n.Fn(r) }

type AndNode struct{ Clauses []Node }

// Eval of an AndNode with zero clauses is true for every record — the
// documented resolution (SPEC_FULL.md) of the `delete(T, {})` ambiguity:
// an empty filter matches everything.
func (n AndNode) Eval(r document.Record) bool {
	for _, c := range n.Clauses {
		if !c.Eval(r) {
			return false
		}
	}
	return true
}

type OrNode struct{ Clauses []Node }

func (n OrNode) Eval(r document.Record) bool {
	if len(n.Clauses) == 0 {
		return false
	}
	for _, c := range n.Clauses {
		if c.Eval(r) {
			return true
		}
	}
	return false
}

// OperatorNode matches one field against one operator's operand, or
// (when Op == "") against the operand by implicit equality.
type OperatorNode struct {
	Field   string
	Op      string
	Operand interface{}
}

func (n OperatorNode) Eval(r document.Record) bool {
	v, present := r.Get(n.Field)
	switch n.Op {
	case "", "$eq":
		if !present {
			return false
		}
		return document.Equal(v, document.FromRaw(n.Operand))
	case "$ne":
		// undefined treated as "not equal" only when the comparand is
		// defined (spec.md §4.4).
		if !present {
			return n.Operand != nil
		}
		return !document.Equal(v, document.FromRaw(n.Operand))
	case "$gt":
		return present && document.Compare(v, document.FromRaw(n.Operand)) > 0
	case "$gte":
		return present && document.Compare(v, document.FromRaw(n.Operand)) >= 0
	case "$lt":
		return present && document.Compare(v, document.FromRaw(n.Operand)) < 0
	case "$lte":
		return present && document.Compare(v, document.FromRaw(n.Operand)) <= 0
	case "$in":
		if !present {
			return false
		}
		return inOperand(v, n.Operand)
	case "$nin":
		if !present {
			// missing field against $nin is documented as true (spec.md §4.4)
			return true
		}
		return !inOperand(v, n.Operand)
	case "$like":
		if !present {
			return false
		}
		s, ok := v.String()
		if !ok {
			return false
		}
		pattern, _ := n.Operand.(string)
		return likeMatch(s, pattern)
	default:
		return false
	}
}

func inOperand(v document.Value, operand interface{}) bool {
	list, ok := operand.([]interface{})
	if !ok {
		return false
	}
	for _, item := range list {
		if document.Equal(v, document.FromRaw(item)) {
			return true
		}
	}
	return false
}

// likeMatch implements SQL-style % wildcards, case-insensitive.
func likeMatch(s, pattern string) bool {
	s = strings.ToLower(s)
	pattern = strings.ToLower(pattern)
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return s == pattern
	}
	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i == 0 {
			if !strings.HasPrefix(s, part) {
				return false
			}
			pos = len(part)
			continue
		}
		if i == len(parts)-1 {
			return strings.HasSuffix(s[pos:], part)
		}
		idx := strings.Index(s[pos:], part)
		if idx == -1 {
			return false
		}
		pos += idx + len(part)
	}
	return true
}

var operatorKeys = map[string]bool{
	"$eq": true, "$ne": true, "$gt": true, "$gte": true, "$lt": true,
	"$lte": true, "$in": true, "$nin": true, "$like": true,
}

// Plan turns a raw filter map (or nil/Func) into a Node tree.
func Plan(filter interface{}) Node {
	switch f := filter.(type) {
	case nil:
		return AndNode{}
	case Func:
		return FuncNode{Fn: f}
	case func(document.Record) bool:
		return FuncNode{Fn: f}
	case Filter:
		return planMap(f)
	default:
		return AndNode{}
	}
}

func planMap(f map[string]interface{}) Node {
	if clauses, ok := f["$and"].([]interface{}); ok {
		nodes := make([]Node, len(clauses))
		for i, c := range clauses {
			nodes[i] = Plan(c)
		}
		return AndNode{Clauses: nodes}
	}
	if clauses, ok := f["$or"].([]interface{}); ok {
		nodes := make([]Node, len(clauses))
		for i, c := range clauses {
			nodes[i] = Plan(c)
		}
		return OrNode{Clauses: nodes}
	}

	var clauses []Node
	for field, cond := range f {
		if opMap, ok := cond.(map[string]interface{}); ok && isOperatorMap(opMap) {
			for op, operand := range opMap {
				clauses = append(clauses, OperatorNode{Field: field, Op: op, Operand: operand})
			}
			continue
		}
		clauses = append(clauses, OperatorNode{Field: field, Op: "$eq", Operand: cond})
	}
	return AndNode{Clauses: clauses}
}

func isOperatorMap(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !operatorKeys[k] {
			return false
		}
	}
	return true
}

// Apply filters records in place order, returning matches.
func Apply(records []document.Record, filter interface{}) []document.Record {
	node := Plan(filter)
	out := make([]document.Record, 0, len(records))
	for _, r := range records {
		if node.Eval(r) {
			out = append(out, r)
		}
	}
	return out
}
