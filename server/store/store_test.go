package store

import (
	"testing"

	"dilemma-lab/server/engine"
)

func TestDecisionTextRoundTrip(t *testing.T) {
	for _, d := range []engine.Decision{engine.Cooperate, engine.Defect, engine.Missing} {
		text := decisionText(d)
		if text == "" {
			t.Fatalf("decisionText(%q) is empty", d)
		}
		if got := parseDecisionText(text); got != d {
			t.Fatalf("parseDecisionText(%q) = %q, want %q", text, got, d)
		}
	}
}

func TestNullableString(t *testing.T) {
	blank := "  "
	high := " high "
	if v := nullableString(nil); v != nil {
		t.Fatalf("nil -> %v", v)
	}
	if v := nullableString(&blank); v != nil {
		t.Fatalf("blank -> %v", v)
	}
	if v := nullableString(&high); v != "high" {
		t.Fatalf("high -> %v", v)
	}
}

func TestSchemaEmbedded(t *testing.T) {
	b, err := schema.ReadFile("schema.sql")
	if err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"sessions", "match_boundaries", "rounds", "decision_eval"} {
		if !containsTable(string(b), table) {
			t.Fatalf("schema missing table %s", table)
		}
	}
}

func containsTable(sql, table string) bool {
	return len(sql) > 0 && (indexOf(sql, "CREATE TABLE IF NOT EXISTS "+table+" (") >= 0)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
