package services

import (
	"encoding/json"
	"testing"

	"gorm.io/datatypes"
)

func TestMergePreferences_PreservesUntouchedKeys(t *testing.T) {
	existing := datatypes.JSON(`{"theme":"dark","default_size":"1024x1024"}`)
	merged, err := MergePreferences(existing, map[string]any{"theme": "light"})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(merged, &got); err != nil {
		t.Fatalf("decode merged: %v", err)
	}
	if got["theme"] != "light" {
		t.Fatalf("theme not updated: %v", got["theme"])
	}
	if got["default_size"] != "1024x1024" {
		t.Fatalf("untouched key lost: %v", got["default_size"])
	}
}

func TestMergePreferences_EmptyStoredPreferences(t *testing.T) {
	merged, err := MergePreferences(nil, map[string]any{"theme": "dark"})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(merged, &got); err != nil {
		t.Fatalf("decode merged: %v", err)
	}
	if got["theme"] != "dark" {
		t.Fatalf("unexpected merged value: %v", got)
	}
}

func TestMergePreferences_RejectsCorruptStoredJSON(t *testing.T) {
	if _, err := MergePreferences(datatypes.JSON(`{broken`), map[string]any{"a": 1}); err == nil {
		t.Fatalf("expected error for corrupt stored preferences")
	}
}

func TestComputeInitials(t *testing.T) {
	cases := []struct {
		displayName string
		email       string
		want        string
	}{
		{"Ada Lovelace", "ada@example.com", "AL"},
		{"cher", "cher@example.com", "C"},
		{"  Grace   Brewster Hopper ", "", "GB"},
		{"", "zoe@example.com", "Z"},
		{"", "", "?"},
	}
	for _, tc := range cases {
		if got := ComputeInitials(tc.displayName, tc.email); got != tc.want {
			t.Fatalf("ComputeInitials(%q, %q) = %q, want %q", tc.displayName, tc.email, got, tc.want)
		}
	}
}
