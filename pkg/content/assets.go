package content

import (
	"sort"

	"golang.org/x/exp/maps"
)

// KeyFunc maps a document string to the asset key it references, if any.
type KeyFunc func(value string) (string, bool)

// AssetKeys collects every asset key referenced anywhere in doc.
func AssetKeys(doc map[string]interface{}, keyOf KeyFunc) map[string]struct{} {
	keys := map[string]struct{}{}
	if keyOf == nil {
		return keys
	}
	collectKeys(doc, keyOf, keys)
	return keys
}

func collectKeys(v interface{}, keyOf KeyFunc, keys map[string]struct{}) {
	switch val := v.(type) {
	case string:
		if key, ok := keyOf(val); ok {
			keys[key] = struct{}{}
		}
	case map[string]interface{}:
		for _, nested := range val {
			collectKeys(nested, keyOf, keys)
		}
	case []interface{}:
		for _, nested := range val {
			collectKeys(nested, keyOf, keys)
		}
	}
}

// Orphans returns the keys of before that none of the still referenced sets
// contain, sorted.
func Orphans(before map[string]struct{}, referenced ...map[string]struct{}) []string {
	left := maps.Clone(before)
	for _, set := range referenced {
		for key := range set {
			delete(left, key)
		}
	}
	keys := maps.Keys(left)
	sort.Strings(keys)
	return keys
}
