// Package merge provides a deep merge for schemaless JSON-like documents.
//
// Activity and member payloads arrive as arbitrary nested maps whose shape
// is owned by the upstream platform connector. Repeat observations of the
// same record must never lose previously ingested data, so maps are merged
// recursively and arrays are treated as ordered sets.
package merge

import "reflect"

// Document is a decoded JSON object (the result of unmarshalling into
// map[string]interface{}).
type Document = map[string]interface{}

// Documents merges incoming into existing and returns the result. Neither
// input is mutated.
//
// Rules, applied per key:
//   - both values are objects: merged recursively
//   - both values are arrays: concatenated, deduplicated, first-seen order
//   - anything else: the incoming value wins
//
// Keys present only in existing are retained. The function is total over
// JSON-representable input: it never fails, and unknown value kinds fall
// back to overwrite semantics.
func Documents(existing, incoming Document) Document {
	out := make(Document, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = cloneValue(v)
	}
	for k, iv := range incoming {
		ev, ok := out[k]
		if !ok {
			out[k] = cloneValue(iv)
			continue
		}
		out[k] = mergeValues(ev, iv)
	}
	return out
}

func mergeValues(existing, incoming interface{}) interface{} {
	switch ev := existing.(type) {
	case Document:
		if iv, ok := incoming.(Document); ok {
			return Documents(ev, iv)
		}
	case []interface{}:
		if iv, ok := incoming.([]interface{}); ok {
			return unionSlices(ev, iv)
		}
	}
	return cloneValue(incoming)
}

// unionSlices concatenates a and b, dropping values already seen. Scalars
// compare by value; nested objects and arrays compare structurally.
func unionSlices(a, b []interface{}) []interface{} {
	out := make([]interface{}, 0, len(a)+len(b))
	for _, v := range a {
		if !containsValue(out, v) {
			out = append(out, cloneValue(v))
		}
	}
	for _, v := range b {
		if !containsValue(out, v) {
			out = append(out, cloneValue(v))
		}
	}
	return out
}

func containsValue(haystack []interface{}, needle interface{}) bool {
	for _, v := range haystack {
		if equalValues(v, needle) {
			return true
		}
	}
	return false
}

func equalValues(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch a.(type) {
	case Document, []interface{}:
		return reflect.DeepEqual(a, b)
	}
	// Scalars from encoding/json are comparable (string, float64, bool).
	// Guard against exotic caller-supplied types that are not.
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}

func cloneValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case Document:
		out := make(Document, len(tv))
		for k, vv := range tv {
			out[k] = cloneValue(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i, vv := range tv {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}

// Clone returns a deep copy of doc. Stores hand out cloned documents so
// callers cannot mutate shared state.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	return cloneValue(doc).(Document)
}
