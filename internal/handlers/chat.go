package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dompet-ai/orchestrator/internal/apperr"
	"github.com/dompet-ai/orchestrator/internal/auth"
	"github.com/dompet-ai/orchestrator/internal/models"
	"github.com/dompet-ai/orchestrator/internal/notifications"
	"github.com/dompet-ai/orchestrator/internal/orchestrator"
)

const sseChunkSize = 80

type ChatHandler struct {
	Orchestrator *orchestrator.Orchestrator
	Hub          *notifications.Hub
	Logger       *slog.Logger
}

// NewChatHandler создает обработчик чат-хода.
func NewChatHandler(o *orchestrator.Orchestrator, hub *notifications.Hub, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{Orchestrator: o, Hub: hub, Logger: logger}
}

type ChatMessageRequest struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

type ChatRequest struct {
	Conversation []ChatMessageRequest  `json:"conversation" validate:"required,min=1,dive"`
	Options      *orchestrator.Options `json:"options,omitempty"`
}

type ChatResponse struct {
	Reply    string                `json:"reply"`
	KPIs     map[string]models.KPI `json:"kpis,omitempty"`
	Actions  any                   `json:"actions,omitempty"`
	Followup string                `json:"followup,omitempty"`
}

// Chat обрабатывает один ход диалога; с заголовком Accept: text/event-stream
// ответ уходит потоком SSE-событий intent, plan, chunk, result, metadata, done.
func (h *ChatHandler) Chat(c echo.Context) error {
	scope, ok := auth.UserFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var req ChatRequest
	if err := bindStrict(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return validationError(c, err)
	}

	conversation := make([]models.ConversationMessage, 0, len(req.Conversation))
	for _, message := range req.Conversation {
		conversation = append(conversation, models.ConversationMessage{Role: message.Role, Content: message.Content})
	}

	opts := orchestrator.Options{}
	if req.Options != nil {
		opts = *req.Options
	}

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "text/event-stream") {
		return h.chatStream(c, scope, conversation, opts)
	}

	outcome, err := h.Orchestrator.HandleChat(c.Request().Context(), scope, conversation, opts)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, toChatResponse(outcome))
}

// chatStream гонит ход через хаб событий: оркестрация работает в отдельной
// горутине и публикует события по идентификатору запроса, а обработчик
// переливает их в SSE-соединение.
func (h *ChatHandler) chatStream(c echo.Context, scope models.AuthenticatedUser, conversation []models.ConversationMessage, opts orchestrator.Options) error {
	requestID := uuid.New()
	events, unsubscribe := h.Hub.Subscribe(requestID)
	defer unsubscribe()

	go func() {
		outcome, err := h.Orchestrator.HandleChat(c.Request().Context(), scope, conversation, opts)
		if err != nil {
			typed := errorEnvelopeFor(err)
			h.Hub.Publish(requestID, notifications.Event{Type: "error", Data: typed})
			h.Hub.Publish(requestID, notifications.Event{Type: "done"})
			return
		}

		h.Hub.Publish(requestID, notifications.Event{Type: "intent", Data: outcome.Classification})
		h.Hub.Publish(requestID, notifications.Event{Type: "plan", Data: outcome.Plan})
		for _, chunk := range splitChunks(outcome.Reply, sseChunkSize) {
			h.Hub.Publish(requestID, notifications.Event{Type: "chunk", Data: chunk})
		}
		h.Hub.Publish(requestID, notifications.Event{Type: "result", Data: toChatResponse(outcome)})
		h.Hub.Publish(requestID, notifications.Event{Type: "metadata", Data: map[string]any{
			"resultData": outcome.ResultData,
		}})
		h.Hub.Publish(requestID, notifications.Event{Type: "done"})
	}()

	response := c.Response()
	response.Header().Set(echo.HeaderContentType, "text/event-stream")
	response.Header().Set(echo.HeaderCacheControl, "no-cache")
	response.Header().Set(echo.HeaderConnection, "keep-alive")
	response.WriteHeader(http.StatusOK)

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeSSE(response, event); err != nil {
				return nil
			}
			if event.Type == "done" {
				return nil
			}
		}
	}
}

func toChatResponse(outcome orchestrator.ChatOutcome) ChatResponse {
	response := ChatResponse{
		Reply:    outcome.Reply,
		KPIs:     outcome.KPIs,
		Followup: outcome.Followup,
	}
	if len(outcome.Actions) > 0 {
		response.Actions = outcome.Actions
	}
	return response
}

func writeSSE(response *echo.Response, event notifications.Event) error {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(response, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return err
	}
	response.Flush()
	return nil
}

func splitChunks(text string, size int) []string {
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// bindStrict декодирует JSON-тело с отказом на неизвестных полях.
func bindStrict(c echo.Context, target any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func errorEnvelopeFor(err error) ErrorEnvelope {
	typed := apperr.From(err)
	return ErrorEnvelope{Code: string(typed.Code), Message: typed.Message, Details: typed.Details}
}
