package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dompet-ai/orchestrator/internal/apperr"
	"github.com/dompet-ai/orchestrator/internal/config"
)

const (
	// Предел длины текста перед эмбеддингом.
	embedTextLimit = 400
	// Максимум текстов в одном запросе к поставщику.
	embedBatchSize = 32

	// InternalEmbedProvider — имя встроенного эмбеддера KPI-векторов.
	InternalEmbedProvider = "internal"
)

type ChatOptions struct {
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
}

type ChatResult struct {
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Message  Message `json:"message"`
	Usage    *Usage  `json:"usage,omitempty"`
}

type EmbedOptions struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

type EmbedResult struct {
	Provider   string      `json:"provider"`
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Router — единый фасад над поставщиками чата и эмбеддингов с ретраями,
// экспоненциальной задержкой и отменой через контекст.
type Router struct {
	cfg            config.ProviderConfig
	client         *http.Client
	logger         *slog.Logger
	chatProviders  map[string]chatProvider
	embedProviders map[string]embedProvider
}

// NewRouter создает роутер поставщиков с реестром по умолчанию.
func NewRouter(cfg config.ProviderConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:            cfg,
		client:         &http.Client{},
		logger:         logger,
		chatProviders:  defaultChatProviders(),
		embedProviders: defaultEmbedProviders(),
	}
}

// SetBaseURL перенаправляет поставщика на другой адрес; используется тестами.
func (r *Router) SetBaseURL(name, baseURL string) {
	if provider, ok := r.chatProviders[name]; ok {
		provider.baseURL = strings.TrimRight(baseURL, "/")
		r.chatProviders[name] = provider
	}
	if provider, ok := r.embedProviders[name]; ok {
		provider.baseURL = strings.TrimRight(baseURL, "/")
		r.embedProviders[name] = provider
	}
}

// Chat выполняет chat-запрос к выбранному поставщику с ретраями.
func (r *Router) Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatResult, error) {
	name := opts.Provider
	if name == "" {
		name = r.cfg.DefaultChatProvider
	}
	provider, ok := r.chatProviders[name]
	if !ok {
		return ChatResult{}, apperr.New(apperr.CodeProviderDown, fmt.Sprintf("unknown chat provider %q", name))
	}

	model := opts.Model
	if model == "" {
		model = provider.defaultModel
	}

	callCtx := ctx
	if r.cfg.ChatTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.ChatTimeout)
		defer cancel()
	}

	var body []byte
	err := r.withRetries(callCtx, r.cfg.ChatRetries, r.cfg.ChatInitialDelay, func() error {
		payload := provider.payload(model, messages, opts)
		raw, err := r.doJSON(callCtx, provider.endpoint(provider.baseURL, model, r.cfg.Keys[name]), payload, func(h http.Header) {
			provider.headers(r.cfg.Keys[name], h)
		})
		if err != nil {
			return err
		}
		body = raw
		return nil
	})
	if err != nil {
		return ChatResult{}, err
	}

	message, usage, err := provider.parse(body)
	if err != nil {
		return ChatResult{}, apperr.Wrap(apperr.CodeProviderDown, truncateError(err), err)
	}

	return ChatResult{Provider: name, Model: model, Message: message, Usage: usage}, nil
}

// Embed считает эмбеддинги пакета текстов: обрезка до 400 символов,
// дедупликация с восстановлением порядка по обратному индексу и батчи
// не больше 32 текстов на вызов поставщика.
func (r *Router) Embed(ctx context.Context, texts []string, opts EmbedOptions) (EmbedResult, error) {
	name := opts.Provider
	if name == "" {
		name = r.cfg.DefaultEmbedProvider
	}
	if name == InternalEmbedProvider {
		return EmbedResult{}, apperr.New(apperr.CodeProviderDown, "internal embedder does not embed free text")
	}
	provider, ok := r.embedProviders[name]
	if !ok {
		return EmbedResult{}, apperr.New(apperr.CodeProviderDown, fmt.Sprintf("unknown embedding provider %q", name))
	}

	model := opts.Model
	if model == "" {
		model = provider.defaultModel
	}

	unique := make([]string, 0, len(texts))
	position := make(map[string]int, len(texts))
	reverse := make([]int, len(texts))
	for i, text := range texts {
		trimmed := truncateRunes(text, embedTextLimit)
		index, seen := position[trimmed]
		if !seen {
			index = len(unique)
			position[trimmed] = index
			unique = append(unique, trimmed)
		}
		reverse[i] = index
	}

	callCtx := ctx
	if r.cfg.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.EmbedTimeout)
		defer cancel()
	}

	vectors := make([][]float32, 0, len(unique))
	for start := 0; start < len(unique); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(unique) {
			end = len(unique)
		}
		batch := unique[start:end]

		var body []byte
		err := r.withRetries(callCtx, r.cfg.EmbedRetries, r.cfg.EmbedInitialDelay, func() error {
			raw, err := r.doJSON(callCtx, provider.endpoint(provider.baseURL, model, r.cfg.Keys[name]), provider.payload(model, batch), func(h http.Header) {
				provider.headers(r.cfg.Keys[name], h)
			})
			if err != nil {
				return err
			}
			body = raw
			return nil
		})
		if err != nil {
			return EmbedResult{}, err
		}

		parsed, err := provider.parse(body)
		if err != nil {
			return EmbedResult{}, apperr.Wrap(apperr.CodeProviderDown, truncateError(err), err)
		}
		if len(parsed) != len(batch) {
			return EmbedResult{}, apperr.New(apperr.CodeProviderDown,
				fmt.Sprintf("embedding count mismatch: sent %d, got %d", len(batch), len(parsed)))
		}
		vectors = append(vectors, parsed...)
	}

	out := make([][]float32, len(texts))
	for i, index := range reverse {
		out[i] = vectors[index]
	}

	return EmbedResult{Provider: name, Model: model, Embeddings: out}, nil
}

// withRetries выполняет fn до maxAttempts раз с экспоненциальной задержкой.
// Отмена контекста прерывает ожидание и возвращает CANCELLED; после
// исчерпания попыток наружу уходит PROVIDER_UNAVAILABLE с последней ошибкой.
func (r *Router) withRetries(ctx context.Context, maxAttempts int, initialDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	factor := r.cfg.BackoffFactor
	if factor < 1 {
		factor = 2
	}

	var lastErr error
	delay := initialDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return apperr.Wrap(apperr.CodeCancelled, "request cancelled", err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if cancelled := ctx.Err(); cancelled != nil {
			return apperr.Wrap(apperr.CodeCancelled, "request cancelled", cancelled)
		}

		if attempt == maxAttempts {
			break
		}

		r.logger.Debug("provider call failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", truncateError(lastErr)),
		)

		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.CodeCancelled, "request cancelled", ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * factor)
	}

	return apperr.Wrap(apperr.CodeProviderDown, truncateError(lastErr), lastErr)
}

func (r *Router) doJSON(ctx context.Context, endpoint string, payload any, setHeaders func(http.Header)) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	setHeaders(request.Header)

	response, err := r.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned status %d: %s", response.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}

// CoerceJSON вырезает из ответа модели первый JSON-объект и разбирает его.
// Поддерживает ограждения из бэктиков; неудача — MODEL_OUTPUT_INVALID.
func CoerceJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimPrefix(strings.TrimSpace(trimmed), "json")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return apperr.New(apperr.CodeModelOutput, "model response does not contain json")
	}

	if err := json.Unmarshal([]byte(trimmed[start:end+1]), target); err != nil {
		return apperr.Wrap(apperr.CodeModelOutput, "model response is not valid json", err)
	}

	return nil
}

func truncateRunes(value string, limit int) string {
	trimmed := strings.TrimSpace(value)
	runes := []rune(trimmed)
	if len(runes) <= limit {
		return trimmed
	}
	return string(runes[:limit])
}

func truncateError(err error) string {
	if err == nil {
		return "provider unavailable"
	}
	message := err.Error()
	if len(message) > 200 {
		message = message[:200]
	}
	return message
}
