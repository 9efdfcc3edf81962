package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dompet-ai/orchestrator/internal/apperr"
	"github.com/dompet-ai/orchestrator/internal/models"
)

type echoInput struct {
	Value string `json:"value" validate:"required"`
}

func testRegistry() *Registry {
	registry := NewRegistry(nil, nil)
	registry.Register(Tool{
		Name:     "test.echo",
		NewInput: func() any { return &echoInput{} },
		Resolve: func(ctx context.Context, scope models.AuthenticatedUser, input any) (any, error) {
			in := input.(*echoInput)
			return map[string]string{"echo": in.Value}, nil
		},
	})
	registry.Register(Tool{
		Name:     "test.fail",
		NewInput: func() any { return &echoInput{} },
		Resolve: func(ctx context.Context, scope models.AuthenticatedUser, input any) (any, error) {
			return nil, errors.New("resolver blew up")
		},
	})
	return registry
}

// TestInvokeSuccess проверяет успешный вызов и сериализацию результата.
func TestInvokeSuccess(t *testing.T) {
	registry := testRegistry()

	result := registry.Invoke(context.Background(), models.AuthenticatedUser{}, "test.echo",
		map[string]any{"value": "hello"})

	if result.Status != StatusOK || result.Replayed {
		t.Fatalf("unexpected result: %+v", result)
	}

	var data map[string]string
	if err := json.Unmarshal(result.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["echo"] != "hello" {
		t.Fatalf("unexpected echo: %s", data["echo"])
	}
}

// TestInvokeValidationError проверяет структурированные детали валидации.
func TestInvokeValidationError(t *testing.T) {
	registry := testRegistry()

	result := registry.Invoke(context.Background(), models.AuthenticatedUser{}, "test.echo", map[string]any{})

	if result.Status != StatusError || result.Code != string(apperr.CodeValidation) {
		t.Fatalf("expected validation error, got %+v", result)
	}

	details, ok := result.Details.(map[string]any)
	if !ok {
		t.Fatalf("expected details map, got %T", result.Details)
	}
	if issues, ok := details["issues"].([]string); !ok || len(issues) == 0 {
		t.Fatalf("expected issues list, got %v", details["issues"])
	}
}

// TestInvokeUnknownTool проверяет вызов незарегистрированного инструмента.
func TestInvokeUnknownTool(t *testing.T) {
	registry := testRegistry()

	result := registry.Invoke(context.Background(), models.AuthenticatedUser{}, "missing", nil)
	if result.Status != StatusError || result.Code != string(apperr.CodeNotFound) {
		t.Fatalf("expected not-found error, got %+v", result)
	}
}

// TestInvokeResolverFailure проверяет, что ошибка резолвера не падает планом.
func TestInvokeResolverFailure(t *testing.T) {
	registry := testRegistry()

	result := registry.Invoke(context.Background(), models.AuthenticatedUser{}, "test.fail",
		map[string]any{"value": "x"})

	if result.Status != StatusError || result.Code != string(apperr.CodeInternal) {
		t.Fatalf("expected internal error, got %+v", result)
	}
}

// TestCanonicalJSONDeterministic проверяет детерминированность хэша входа.
func TestCanonicalJSONDeterministic(t *testing.T) {
	first, err := canonicalJSON(map[string]any{"b": 1, "a": "x", "c": []int{1, 2}})
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	second, err := canonicalJSON(map[string]any{"c": []int{1, 2}, "a": "x", "b": 1})
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}

	if hashPayload(first) != hashPayload(second) {
		t.Fatal("expected identical hashes for the same payload")
	}
}

// TestDeriveIdempotencyKey проверяет детерминированность и длину ключа.
func TestDeriveIdempotencyKey(t *testing.T) {
	first := DeriveIdempotencyKey("tenant", "customer", "2024-05-11T00:00:00Z", "125000", "lunch")
	second := DeriveIdempotencyKey("tenant", "customer", "2024-05-11T00:00:00Z", "125000", "lunch")

	if first != second {
		t.Fatal("expected deterministic key")
	}
	if len(first) != 24 {
		t.Fatalf("expected 24 hex chars, got %d", len(first))
	}

	other := DeriveIdempotencyKey("tenant", "customer", "2024-05-11T00:00:00Z", "125000", "dinner")
	if other == first {
		t.Fatal("expected different key for different description")
	}
}

// TestParseOccurredAt проверяет поддерживаемые форматы времени.
func TestParseOccurredAt(t *testing.T) {
	if _, err := parseOccurredAt("2024-05-11T10:30:00Z"); err != nil {
		t.Fatalf("rfc3339: %v", err)
	}
	if _, err := parseOccurredAt("2024-05-11"); err != nil {
		t.Fatalf("date: %v", err)
	}
	if parsed, err := parseOccurredAt(""); err != nil || parsed.IsZero() {
		t.Fatalf("empty value must default to now, got %v / %v", parsed, err)
	}
	if _, err := parseOccurredAt("11/05/2024"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
