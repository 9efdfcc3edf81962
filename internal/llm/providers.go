package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Message — одно сообщение диалога в формате chat-провайдеров.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// chatProvider — запись возможностей одного поставщика: эндпоинт, заголовки,
// сборка полезной нагрузки и разбор ответа. Новые поставщики добавляются
// записью в реестр без изменения вызывающего кода.
type chatProvider struct {
	name         string
	defaultModel string
	baseURL      string
	endpoint     func(baseURL, model, apiKey string) string
	headers      func(apiKey string, header http.Header)
	payload      func(model string, messages []Message, opts ChatOptions) any
	parse        func(body []byte) (Message, *Usage, error)
}

type embedProvider struct {
	name         string
	defaultModel string
	baseURL      string
	endpoint     func(baseURL, model, apiKey string) string
	headers      func(apiKey string, header http.Header)
	payload      func(model string, texts []string) any
	parse        func(body []byte) ([][]float32, error)
}

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type anthropicRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  *geminiConfig   `json:"generationConfig,omitempty"`
}

type geminiConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type geminiEmbedRequest struct {
	Requests []geminiEmbedItem `json:"requests"`
}

type geminiEmbedItem struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

func bearerHeaders(apiKey string, header http.Header) {
	header.Set("Authorization", "Bearer "+apiKey)
	header.Set("Content-Type", "application/json")
}

func openAIStylePayload(model string, messages []Message, opts ChatOptions) any {
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = 0.2
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	return openAIChatRequest{Model: model, Messages: messages, Temperature: temperature, MaxTokens: maxTokens}
}

func parseOpenAIChat(body []byte) (Message, *Usage, error) {
	var parsed openAIChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Message{}, nil, err
	}
	if parsed.Error != nil {
		return Message{}, nil, errors.New(parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Message{}, nil, errors.New("response missing choices")
	}
	return parsed.Choices[0].Message, parsed.Usage, nil
}

func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, message := range messages {
		if strings.EqualFold(message.Role, "system") {
			system = append(system, message.Content)
			continue
		}
		rest = append(rest, message)
	}
	return strings.Join(system, "\n"), rest
}

func defaultChatProviders() map[string]chatProvider {
	openAIEndpoint := func(baseURL, model, apiKey string) string {
		return baseURL + "/chat/completions"
	}

	return map[string]chatProvider{
		"openai": {
			name:         "openai",
			defaultModel: "gpt-4o-mini",
			baseURL:      "https://api.openai.com/v1",
			endpoint:     openAIEndpoint,
			headers:      bearerHeaders,
			payload:      openAIStylePayload,
			parse:        parseOpenAIChat,
		},
		"groq": {
			name:         "groq",
			defaultModel: "llama-3.1-8b-instant",
			baseURL:      "https://api.groq.com/openai/v1",
			endpoint:     openAIEndpoint,
			headers:      bearerHeaders,
			payload:      openAIStylePayload,
			parse:        parseOpenAIChat,
		},
		"anthropic": {
			name:         "anthropic",
			defaultModel: "claude-3-5-haiku-latest",
			baseURL:      "https://api.anthropic.com",
			endpoint: func(baseURL, model, apiKey string) string {
				return baseURL + "/v1/messages"
			},
			headers: func(apiKey string, header http.Header) {
				header.Set("x-api-key", apiKey)
				header.Set("anthropic-version", "2023-06-01")
				header.Set("Content-Type", "application/json")
			},
			payload: func(model string, messages []Message, opts ChatOptions) any {
				maxTokens := opts.MaxTokens
				if maxTokens == 0 {
					maxTokens = 1024
				}
				system, rest := splitSystem(messages)
				return anthropicRequest{Model: model, MaxTokens: maxTokens, System: system, Messages: rest}
			},
			parse: func(body []byte) (Message, *Usage, error) {
				var parsed anthropicResponse
				if err := json.Unmarshal(body, &parsed); err != nil {
					return Message{}, nil, err
				}
				if parsed.Error != nil {
					return Message{}, nil, errors.New(parsed.Error.Message)
				}
				if len(parsed.Content) == 0 {
					return Message{}, nil, errors.New("response missing content")
				}
				var usage *Usage
				if parsed.Usage != nil {
					usage = &Usage{
						PromptTokens:     parsed.Usage.InputTokens,
						CompletionTokens: parsed.Usage.OutputTokens,
						TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
					}
				}
				return Message{Role: "assistant", Content: parsed.Content[0].Text}, usage, nil
			},
		},
		"gemini": {
			name:         "gemini",
			defaultModel: "gemini-1.5-flash",
			baseURL:      "https://generativelanguage.googleapis.com/v1beta",
			endpoint: func(baseURL, model, apiKey string) string {
				return fmt.Sprintf("%s/models/%s:generateContent?key=%s", baseURL, model, apiKey)
			},
			headers: func(apiKey string, header http.Header) {
				header.Set("Content-Type", "application/json")
			},
			payload: func(model string, messages []Message, opts ChatOptions) any {
				maxTokens := opts.MaxTokens
				if maxTokens == 0 {
					maxTokens = 1024
				}
				system, rest := splitSystem(messages)
				request := geminiRequest{
					GenerationConfig: &geminiConfig{Temperature: opts.Temperature, MaxOutputTokens: maxTokens},
				}
				if system != "" {
					request.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
				}
				for _, message := range rest {
					role := "user"
					if strings.EqualFold(message.Role, "assistant") {
						role = "model"
					}
					request.Contents = append(request.Contents, geminiContent{
						Role:  role,
						Parts: []geminiPart{{Text: message.Content}},
					})
				}
				return request
			},
			parse: func(body []byte) (Message, *Usage, error) {
				var parsed geminiResponse
				if err := json.Unmarshal(body, &parsed); err != nil {
					return Message{}, nil, err
				}
				if parsed.Error != nil {
					return Message{}, nil, errors.New(parsed.Error.Message)
				}
				if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
					return Message{}, nil, errors.New("response missing candidates")
				}
				var builder strings.Builder
				for _, part := range parsed.Candidates[0].Content.Parts {
					builder.WriteString(part.Text)
				}
				return Message{Role: "assistant", Content: builder.String()}, nil, nil
			},
		},
	}
}

func defaultEmbedProviders() map[string]embedProvider {
	return map[string]embedProvider{
		"openai": {
			name:         "openai",
			defaultModel: "text-embedding-3-small",
			baseURL:      "https://api.openai.com/v1",
			endpoint: func(baseURL, model, apiKey string) string {
				return baseURL + "/embeddings"
			},
			headers: bearerHeaders,
			payload: func(model string, texts []string) any {
				return openAIEmbedRequest{Model: model, Input: texts}
			},
			parse: func(body []byte) ([][]float32, error) {
				var parsed openAIEmbedResponse
				if err := json.Unmarshal(body, &parsed); err != nil {
					return nil, err
				}
				out := make([][]float32, len(parsed.Data))
				for i, item := range parsed.Data {
					out[i] = item.Embedding
				}
				return out, nil
			},
		},
		"gemini": {
			name:         "gemini",
			defaultModel: "text-embedding-004",
			baseURL:      "https://generativelanguage.googleapis.com/v1beta",
			endpoint: func(baseURL, model, apiKey string) string {
				return fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", baseURL, model, apiKey)
			},
			headers: func(apiKey string, header http.Header) {
				header.Set("Content-Type", "application/json")
			},
			payload: func(model string, texts []string) any {
				request := geminiEmbedRequest{Requests: make([]geminiEmbedItem, 0, len(texts))}
				for _, text := range texts {
					request.Requests = append(request.Requests, geminiEmbedItem{
						Model:   "models/" + model,
						Content: geminiContent{Parts: []geminiPart{{Text: text}}},
					})
				}
				return request
			},
			parse: func(body []byte) ([][]float32, error) {
				var parsed geminiEmbedResponse
				if err := json.Unmarshal(body, &parsed); err != nil {
					return nil, err
				}
				out := make([][]float32, len(parsed.Embeddings))
				for i, item := range parsed.Embeddings {
					out[i] = item.Values
				}
				return out, nil
			},
		},
	}
}
