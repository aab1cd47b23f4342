// Package content holds the draft and published profile documents of an owner
// and the merge rules applied when the editor saves a partial document.
package content

// Merge returns the deep merge of src into dst. Keyed structures present on
// both sides are merged recursively; any other value in src, arrays included,
// replaces the value in dst wholesale. Neither argument is modified.
func Merge(dst, src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		incoming, incomingIsMap := v.(map[string]interface{})
		existing, existingIsMap := out[k].(map[string]interface{})
		if incomingIsMap && existingIsMap {
			out[k] = Merge(existing, incoming)
			continue
		}
		out[k] = v
	}
	return out
}

// Prune drops empty-string and null leaves from a partial document so they
// are read as "no edit". Keyed structures left empty by pruning are dropped
// too. Arrays are kept as they are, an empty array clears the field.
func Prune(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if val == "" {
				continue
			}
		case map[string]interface{}:
			nested := Prune(val)
			if len(nested) == 0 {
				continue
			}
			out[k] = nested
			continue
		}
		out[k] = v
	}
	return out
}

// Apply is the save rule for a partial document: prune, then merge.
func Apply(existing, partial map[string]interface{}) map[string]interface{} {
	return Merge(existing, Prune(partial))
}
