package memory

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Sanitize flattens metadata into values a vector store accepts: nil becomes "", lists and
// sets are joined with ", ", maps become JSON with nested nils replaced by "". Scalars pass
// through unchanged.
func Sanitize(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = sanitizeValue(v)
	}
	return out
}

// Stringify renders sanitized metadata as strings.
func Stringify(metadata map[string]any) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range Sanitize(metadata) {
		out[k] = scalarString(v)
	}
	return out
}

func sanitizeValue(v any) any {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return val
	case []byte:
		return string(val)
	case json.RawMessage:
		return string(val)
	case fmt.Stringer:
		return val.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return ""
		}
		return sanitizeValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return ""
		}
		parts := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			parts = append(parts, scalarString(sanitizeValue(rv.Index(i).Interface())))
		}
		return strings.Join(parts, ", ")
	case reflect.Map:
		if rv.IsNil() {
			return ""
		}
		if rv.Type().Elem().Kind() == reflect.Struct && rv.Type().Elem().NumField() == 0 {
			keys := make([]string, 0, rv.Len())
			for _, key := range rv.MapKeys() {
				keys = append(keys, fmt.Sprint(key.Interface()))
			}
			sort.Strings(keys)
			return strings.Join(keys, ", ")
		}
		b, err := json.Marshal(replaceNil(v))
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

// replaceNil rebuilds maps and slices with nil leaves replaced by "".
func replaceNil(v any) any {
	if v == nil {
		return ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return ""
		}
		return replaceNil(rv.Elem().Interface())
	case reflect.Map:
		if rv.IsNil() {
			return ""
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = replaceNil(iter.Value().Interface())
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return ""
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return string(rv.Bytes())
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = replaceNil(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
