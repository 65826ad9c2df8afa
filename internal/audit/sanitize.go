package audit

import (
	"fmt"
	"reflect"
	"strings"
)

// Redacted replaces the value of every sensitive metadata key.
const Redacted = "[REDACTED]"

var sensitiveKeywords = []string{
	"password",
	"hash",
	"token",
	"secret",
	"apikey",
	"accesstoken",
	"refreshtoken",
	"authorization",
}

var keyNormalizer = strings.NewReplacer("_", "", "-", "", " ", "", ".", "")

// IsSensitiveKey reports whether a metadata key names a credential. Matching
// ignores case and the separators _ - . and space, so "API-Key",
// "api_key" and "apiKey" are all caught.
func IsSensitiveKey(key string) bool {
	norm := keyNormalizer.Replace(strings.ToLower(key))
	for _, kw := range sensitiveKeywords {
		if strings.Contains(norm, kw) {
			return true
		}
	}
	return false
}

// Sanitize returns a deep copy of metadata with sensitive keys redacted at
// every depth. The input is not modified. A map or slice reached twice on
// the same path is replaced by Redacted instead of recursing forever.
func Sanitize(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	return sanitizeMap(metadata, make(map[uintptr]struct{}))
}

func sanitizeMap(in map[string]any, visited map[uintptr]struct{}) map[string]any {
	ptr := reflect.ValueOf(in).Pointer()
	visited[ptr] = struct{}{}
	defer delete(visited, ptr)

	out := make(map[string]any, len(in))
	for k, v := range in {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = sanitizeValue(v, visited)
	}
	return out
}

// sanitizeValue walks maps, slices, arrays and pointers of any type. Map keys
// are matched by their string form, so http.Header and named map types are
// redacted like plain metadata maps.
func sanitizeValue(v any, visited map[uintptr]struct{}) any {
	if m, ok := v.(map[string]any); ok {
		if m == nil {
			return m
		}
		if _, seen := visited[reflect.ValueOf(m).Pointer()]; seen {
			return Redacted
		}
		return sanitizeMap(m, visited)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		ptr := rv.Pointer()
		if _, seen := visited[ptr]; seen {
			return Redacted
		}
		visited[ptr] = struct{}{}
		defer delete(visited, ptr)

		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := mapKey(iter.Key())
			if IsSensitiveKey(k) {
				out[k] = Redacted
				continue
			}
			out[k] = sanitizeValue(iter.Value().Interface(), visited)
		}
		return out
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		if rv.Len() == 0 {
			return []any{}
		}
		ptr := rv.Pointer()
		if _, seen := visited[ptr]; seen {
			return Redacted
		}
		visited[ptr] = struct{}{}
		defer delete(visited, ptr)
		return sanitizeElems(rv, visited)
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		return sanitizeElems(rv, visited)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return v
		}
		if rv.Kind() == reflect.Pointer {
			ptr := rv.Pointer()
			if _, seen := visited[ptr]; seen {
				return Redacted
			}
			visited[ptr] = struct{}{}
			defer delete(visited, ptr)
		}
		switch rv.Elem().Kind() {
		case reflect.Map, reflect.Slice, reflect.Array, reflect.Pointer, reflect.Interface:
			return sanitizeValue(rv.Elem().Interface(), visited)
		}
		return v
	default:
		return v
	}
}

func sanitizeElems(rv reflect.Value, visited map[uintptr]struct{}) []any {
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = sanitizeValue(rv.Index(i).Interface(), visited)
	}
	return out
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}
