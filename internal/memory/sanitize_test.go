package memory

import (
	"encoding/json"
	"testing"
)

func TestSanitizeFlattensCompounds(t *testing.T) {
	got := Sanitize(map[string]any{
		"nothing": nil,
		"themes":  []string{"sleep", "focus"},
		"mixed":   []any{"a", 2, nil},
		"set":     map[string]struct{}{"b": {}, "a": {}},
		"nested":  map[string]any{"x": nil, "y": []any{nil, "z"}},
		"count":   3,
		"ok":      true,
		"score":   0.5,
	})

	want := map[string]any{
		"nothing": "",
		"themes":  "sleep, focus",
		"mixed":   "a, 2, ",
		"set":     "a, b",
		"count":   3,
		"ok":      true,
		"score":   0.5,
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("Sanitize()[%q] = %#v, want %#v", k, got[k], v)
		}
	}

	var nested map[string]any
	if err := json.Unmarshal([]byte(got["nested"].(string)), &nested); err != nil {
		t.Fatalf("nested value is not JSON: %v", err)
	}
	if nested["x"] != "" {
		t.Fatalf("nested x = %#v, want empty string", nested["x"])
	}
	list, ok := nested["y"].([]any)
	if !ok || len(list) != 2 || list[0] != "" || list[1] != "z" {
		t.Fatalf("nested y = %#v, want [\"\", \"z\"]", nested["y"])
	}
}

func TestStringifyScalars(t *testing.T) {
	got := Stringify(map[string]any{"n": 12, "f": 1.25, "b": false, "s": "x", "nil": nil})
	want := map[string]string{"n": "12", "f": "1.25", "b": "false", "s": "x", "nil": ""}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("Stringify()[%q] = %q, want %q", k, got[k], v)
		}
	}
}
