package document

// updateOperators are the operator keys ApplyUpdate recognizes (spec.md
// §4.9: "$set, $inc, $push, $pull at minimum").
var updateOperators = map[string]bool{"$set": true, "$inc": true, "$push": true, "$pull": true}

// isOperatorPatch reports whether patch is an operator object (every key
// one of the recognized operators) rather than a plain replacement
// object. An empty patch is treated as a plain replacement (a no-op).
func isOperatorPatch(patch Record) bool {
	if len(patch) == 0 {
		return false
	}
	for k := range patch {
		if !updateOperators[k] {
			return false
		}
	}
	return true
}

// ApplyUpdate merges patch into record and returns record. A plain
// object overwrites fields directly; an operator object applies $set
// (overwrite), $inc (add to a numeric field, treating a missing or
// non-numeric field as 0), $push (append to an array field, creating it
// if absent), and $pull (remove every array element equal to the given
// value) per spec.md §4.9.
func ApplyUpdate(record, patch Record) Record {
	if !isOperatorPatch(patch) {
		for k, v := range patch {
			record[k] = v
		}
		return record
	}

	if set, ok := patch["$set"]; ok {
		if obj, ok := set.Object(); ok {
			for k, v := range obj {
				record[k] = v
			}
		}
	}
	if inc, ok := patch["$inc"]; ok {
		if obj, ok := inc.Object(); ok {
			for k, v := range obj {
				delta, _ := v.Number()
				cur, _ := record[k].Number()
				record[k] = Number(cur + delta)
			}
		}
	}
	if push, ok := patch["$push"]; ok {
		if obj, ok := push.Object(); ok {
			for k, v := range obj {
				arr, _ := record[k].Array()
				record[k] = Array(append(append([]Value(nil), arr...), v))
			}
		}
	}
	if pull, ok := patch["$pull"]; ok {
		if obj, ok := pull.Object(); ok {
			for k, v := range obj {
				arr, _ := record[k].Array()
				kept := make([]Value, 0, len(arr))
				for _, item := range arr {
					if !Equal(item, v) {
						kept = append(kept, item)
					}
				}
				record[k] = Array(kept)
			}
		}
	}
	return record
}
