package transcode

import (
	"net/url"
	"sort"
)

// Collision records the keys of a single object that map onto the same name.
// The keys are left untransformed in the output.
type Collision struct {
	Target string
	Keys   []string
}

// Transform recursively renames every mapping key in v. It returns the new value
// and any key collisions found along the way.
func Transform(v any, mode Mode) (any, []Collision) {
	var collisions []Collision
	out := transform(v, mode, &collisions)
	return out, collisions
}

func transform(v any, mode Mode, collisions *[]Collision) any {
	switch val := v.(type) {
	case map[string]any:
		names := renameKeys(keysOf(val), mode, collisions)
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[names[k]] = transform(child, mode, collisions)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = transform(child, mode, collisions)
		}
		return out
	default:
		return v
	}
}

// Query renames the keys of a query string. Values are not touched.
func Query(values url.Values, mode Mode) (url.Values, []Collision) {
	var collisions []Collision
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	names := renameKeys(keys, mode, &collisions)
	out := make(url.Values, len(values))
	for k, vs := range values {
		out[names[k]] = append([]string(nil), vs...)
	}
	return out, collisions
}

// renameKeys maps each key to its converted name, keeping the original name for
// keys that would collide with one another.
func renameKeys(keys []string, mode Mode, collisions *[]Collision) map[string]string {
	names := make(map[string]string, len(keys))
	byTarget := make(map[string][]string, len(keys))
	for _, k := range keys {
		target := Key(k, mode)
		names[k] = target
		byTarget[target] = append(byTarget[target], k)
	}
	if len(byTarget) == len(keys) {
		return names
	}

	targets := make([]string, 0)
	for target, sources := range byTarget {
		if len(sources) > 1 {
			targets = append(targets, target)
		}
	}
	sort.Strings(targets)
	for _, target := range targets {
		sources := byTarget[target]
		sort.Strings(sources)
		for _, k := range sources {
			names[k] = k
		}
		*collisions = append(*collisions, Collision{Target: target, Keys: sources})
	}
	return names
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
