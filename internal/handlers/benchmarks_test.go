package handlers

import (
	"strings"
	"testing"
)

var testAliasPool = []string{"🦊", "🐼", "🦉", "🐢", "🐙", "🦄", "🐝", "🐧", "🦋", "🐳"}

// TestAliasDeterministic проверяет детерминированность псевдонима.
func TestAliasDeterministic(t *testing.T) {
	handler := &BenchmarkHandler{AliasEmojiPool: testAliasPool}

	first := handler.alias("user-1")
	second := handler.alias("user-1")
	if first != second {
		t.Fatal("expected deterministic alias")
	}

	other := handler.alias("user-2")
	if other == first {
		t.Fatal("expected different alias for different user")
	}
}

// TestAliasShape проверяет форму псевдонима: эмодзи из пула и 6 hex-знаков.
func TestAliasShape(t *testing.T) {
	handler := &BenchmarkHandler{AliasEmojiPool: testAliasPool}

	alias := handler.alias("user-1")

	var prefix string
	for _, emoji := range testAliasPool {
		if strings.HasPrefix(alias, emoji) {
			prefix = emoji
			break
		}
	}
	if prefix == "" {
		t.Fatalf("alias %q does not start with a pool symbol", alias)
	}

	suffix := strings.TrimPrefix(alias, prefix)
	if len(suffix) != 6 {
		t.Fatalf("expected 6 hex chars, got %q", suffix)
	}
	if strings.Contains(alias, "You") {
		t.Fatal("alias must never contain the literal You")
	}
}
