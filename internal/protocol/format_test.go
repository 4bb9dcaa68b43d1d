package protocol

import (
	"encoding/json"
	"testing"
)

func TestPrettyJSON(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"raw message", json.RawMessage(`{"a":1}`), "{\n  \"a\": 1\n}"},
		{"invalid raw", json.RawMessage(`not json`), "not json"},
		{"map", map[string]any{"b": "x"}, "{\n  \"b\": \"x\"\n}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PrettyJSON(tt.in); got != tt.want {
				t.Errorf("PrettyJSON = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{float64(1700000000), "1700000000"},
		{1.5, "1.5"},
		{json.Number("42"), "42"},
		{"s", "s"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSortedKeys(t *testing.T) {
	got := SortedKeys(map[string]int{"c": 1, "a": 2, "b": 3})
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortedKeys = %v, want %v", got, want)
		}
	}
}
