package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dompet-ai/orchestrator/internal/apperr"
	"github.com/dompet-ai/orchestrator/internal/config"
)

func testProviderConfig() config.ProviderConfig {
	return config.ProviderConfig{
		DefaultChatProvider:  "openai",
		DefaultEmbedProvider: "openai",
		Keys:                 map[string]string{"openai": "test-key"},
		ChatRetries:          3,
		EmbedRetries:         3,
		ChatInitialDelay:     time.Millisecond,
		EmbedInitialDelay:    time.Millisecond,
		BackoffFactor:        2,
	}
}

func chatServer(t *testing.T, handler http.HandlerFunc) (*Router, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	router := NewRouter(testProviderConfig(), nil)
	router.SetBaseURL("openai", server.URL)
	return router, server
}

func chatCompletion(content string) []byte {
	payload, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return payload
}

// TestChatSuccess проверяет успешный вызов и выбор модели по умолчанию.
func TestChatSuccess(t *testing.T) {
	router, _ := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", got)
		}
		w.Write(chatCompletion("hello"))
	})

	result, err := router.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, ChatOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Message.Content != "hello" {
		t.Fatalf("unexpected content: %s", result.Message.Content)
	}
	if result.Provider != "openai" || result.Model == "" {
		t.Fatalf("unexpected provider/model: %s/%s", result.Provider, result.Model)
	}
}

// TestChatRetriesExhausted проверяет ровно R попыток и PROVIDER_UNAVAILABLE.
func TestChatRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	router, _ := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := router.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, ChatOptions{})
	if err == nil {
		t.Fatal("expected error after retries")
	}

	typed := apperr.From(err)
	if typed.Code != apperr.CodeProviderDown {
		t.Fatalf("expected PROVIDER_UNAVAILABLE, got %s", typed.Code)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
	if len(typed.Message) > 200 {
		t.Fatalf("error message longer than 200 chars: %d", len(typed.Message))
	}
}

// TestChatCancelled проверяет, что отмена контекста дает CANCELLED.
func TestChatCancelled(t *testing.T) {
	router, _ := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write(chatCompletion("late"))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := router.Chat(ctx, []Message{{Role: "user", Content: "hi"}}, ChatOptions{})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if typed := apperr.From(err); typed.Code != apperr.CodeCancelled {
		t.Fatalf("expected CANCELLED, got %s", typed.Code)
	}
}

// TestChatUnknownProvider проверяет отказ на неизвестном поставщике.
func TestChatUnknownProvider(t *testing.T) {
	router := NewRouter(testProviderConfig(), nil)

	_, err := router.Chat(context.Background(), nil, ChatOptions{Provider: "nope"})
	if err == nil {
		t.Fatal("expected error")
	}
	if typed := apperr.From(err); typed.Code != apperr.CodeProviderDown {
		t.Fatalf("expected PROVIDER_UNAVAILABLE, got %s", typed.Code)
	}
}

// TestEmbedDedupAndOrder проверяет обрезку, дедупликацию и порядок выдачи.
func TestEmbedDedupAndOrder(t *testing.T) {
	var received [][]string
	router, _ := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req openAIEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		received = append(received, req.Input)

		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			data[i] = map[string]any{"embedding": []float32{float32(len(text)), float32(i)}}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	})

	long := strings.Repeat("x", 500)
	texts := []string{"alpha", "beta", "alpha", long}

	result, err := router.Embed(context.Background(), texts, EmbedOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(result.Embeddings) != 4 {
		t.Fatalf("expected 4 embeddings, got %d", len(result.Embeddings))
	}
	// Дубликат получает тот же вектор, что и первый экземпляр.
	if result.Embeddings[0][0] != result.Embeddings[2][0] || result.Embeddings[0][1] != result.Embeddings[2][1] {
		t.Fatal("duplicate text did not reuse the embedding")
	}
	// Длинный текст обрезан до 400 символов перед отправкой.
	if result.Embeddings[3][0] != 400 {
		t.Fatalf("expected truncation to 400 chars, got %v", result.Embeddings[3][0])
	}
	// Поставщик видел только уникальные тексты.
	if len(received) != 1 || len(received[0]) != 3 {
		t.Fatalf("expected one batch of 3 unique texts, got %v", received)
	}
}

// TestEmbedBatching проверяет разбиение на батчи не больше 32 текстов.
func TestEmbedBatching(t *testing.T) {
	var batchSizes []int
	router, _ := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req openAIEmbedRequest
		json.NewDecoder(r.Body).Decode(&req)
		batchSizes = append(batchSizes, len(req.Input))

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"embedding": []float32{1}}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	})

	texts := make([]string, 70)
	for i := range texts {
		texts[i] = strings.Repeat("t", i+1)
	}

	if _, err := router.Embed(context.Background(), texts, EmbedOptions{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(batchSizes) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batchSizes))
	}
	for _, size := range batchSizes {
		if size > 32 {
			t.Fatalf("batch size %d exceeds 32", size)
		}
	}
}

// TestEmbedInternalProvider проверяет отказ внутреннего эмбеддера на тексте.
func TestEmbedInternalProvider(t *testing.T) {
	cfg := testProviderConfig()
	cfg.DefaultEmbedProvider = InternalEmbedProvider
	router := NewRouter(cfg, nil)

	if _, err := router.Embed(context.Background(), []string{"q"}, EmbedOptions{}); err == nil {
		t.Fatal("expected error for internal embedder")
	}
}

// TestCoerceJSON проверяет вырезание JSON из ответов модели.
func TestCoerceJSON(t *testing.T) {
	var target struct {
		Intent string `json:"intent"`
	}

	inputs := []string{
		`{"intent":"unknown"}`,
		"Sure! Here you go: {\"intent\":\"unknown\"} hope it helps",
		"```json\n{\"intent\":\"unknown\"}\n```",
	}
	for _, input := range inputs {
		target.Intent = ""
		if err := CoerceJSON(input, &target); err != nil {
			t.Fatalf("input %q: %v", input, err)
		}
		if target.Intent != "unknown" {
			t.Fatalf("input %q: parsed %q", input, target.Intent)
		}
	}

	err := CoerceJSON("no json here", &target)
	if err == nil {
		t.Fatal("expected error for non-json content")
	}
	var typed *apperr.Error
	if !errors.As(err, &typed) || typed.Code != apperr.CodeModelOutput {
		t.Fatalf("expected MODEL_OUTPUT_INVALID, got %v", err)
	}
}

// TestChatJSONStrictRetry проверяет один повтор с жесткой директивой.
func TestChatJSONStrictRetry(t *testing.T) {
	var calls atomic.Int32
	router, _ := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req openAIChatRequest
		json.NewDecoder(r.Body).Decode(&req)

		if calls.Add(1) == 1 {
			w.Write(chatCompletion("not json at all"))
			return
		}
		if req.Messages[0].Content != strictJSONDirective {
			t.Errorf("expected strict directive on retry, got %q", req.Messages[0].Content)
		}
		w.Write(chatCompletion(`{"intent":"unknown","confidence":0.5}`))
	})

	result, err := router.ClassifyIntent(context.Background(), nil, ChatOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Intent != "unknown" || result.Confidence != 0.5 {
		t.Fatalf("unexpected classification: %+v", result)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}
