package cache

import "strings"

// KeyFormat is the contract spec.md §4.10 requires be defined exactly:
// a cache key is "<table>_<rest>", where rest is either a record id or
// a query fingerprint. TableFromKey recovers the table prefix by taking
// the substring before the last underscore — the same convention
// spec.md §4.10 names for deriving a table name from a dirty key during
// auto-sync grouping.
func TableFromKey(key string) string {
	idx := strings.LastIndex(key, "_")
	if idx == -1 {
		return key
	}
	return key[:idx]
}

func ByIDKey(table string, id string) string {
	return table + "_" + id
}

func ByQueryKey(table string, fingerprint string) string {
	return table + "_" + fingerprint
}
