package config

import (
	"reflect"
	"testing"
	"time"
)

// TestDatabaseURLPriority проверяет порядок приоритета переменных подключения.
func TestDatabaseURLPriority(t *testing.T) {
	t.Setenv("PG_CONNECTION_STRING", "postgres://third")
	t.Setenv("POSTGRES_URL", "postgres://second")

	if got := databaseURL(); got != "postgres://second" {
		t.Fatalf("expected POSTGRES_URL to win, got %s", got)
	}

	t.Setenv("DATABASE_URL", "postgres://first")
	if got := databaseURL(); got != "postgres://first" {
		t.Fatalf("expected DATABASE_URL to win, got %s", got)
	}
}

// TestParseCSVEnvOr проверяет разбор списка с запасным значением.
func TestParseCSVEnvOr(t *testing.T) {
	fallback := []string{"a", "b"}

	if got := parseCSVEnvOr("MISSING_POOL_ENV", fallback); !reflect.DeepEqual(got, fallback) {
		t.Fatalf("expected fallback, got %v", got)
	}

	t.Setenv("POOL_ENV", " x , ,y ")
	want := []string{"x", "y"}
	if got := parseCSVEnvOr("POOL_ENV", fallback); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

// TestLoadDefaults проверяет значения по умолчанию и валидацию секрета.
func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-secret")
	t.Setenv("DATABASE_URL", "postgres://localhost/dompet")
	t.Setenv("ENV_FILE", "/dev/null")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("unexpected port: %d", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout != 20*time.Second {
		t.Fatalf("unexpected request timeout: %v", cfg.Server.RequestTimeout)
	}
	if cfg.Providers.DefaultEmbedProvider != "internal" || cfg.Providers.EmbedDimensions != 7 {
		t.Fatalf("unexpected embed defaults: %s/%d", cfg.Providers.DefaultEmbedProvider, cfg.Providers.EmbedDimensions)
	}
	if cfg.Governor.ChatPerMinute != 10 || cfg.Governor.UploadCSVPerMinute != 3 {
		t.Fatalf("unexpected governor defaults: %+v", cfg.Governor)
	}
	if len(cfg.Privacy.AliasEmojiPool) != 10 {
		t.Fatalf("expected 10 alias symbols, got %d", len(cfg.Privacy.AliasEmojiPool))
	}
}

// TestLoadMissingSecret проверяет, что без AUTH_SECRET загрузка падает.
func TestLoadMissingSecret(t *testing.T) {
	t.Setenv("ENV_FILE", "/dev/null")
	t.Setenv("AUTH_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing AUTH_SECRET")
	}
}

// TestExternalEmbedderDimensions проверяет размерность внешнего эмбеддера.
func TestExternalEmbedderDimensions(t *testing.T) {
	t.Setenv("ENV_FILE", "/dev/null")
	t.Setenv("AUTH_SECRET", "test-secret")
	t.Setenv("DATABASE_URL", "postgres://localhost/dompet")
	t.Setenv("DEFAULT_EMBEDDING_PROVIDER", "openai")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Providers.EmbedDimensions != 1536 {
		t.Fatalf("expected 1536 dimensions, got %d", cfg.Providers.EmbedDimensions)
	}
}
