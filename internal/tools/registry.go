package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/dompet-ai/orchestrator/internal/apperr"
	"github.com/dompet-ai/orchestrator/internal/models"
	"github.com/dompet-ai/orchestrator/internal/repository"
)

const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Tool — именованная операция с типизированным входом и резолвером.
// DeriveKey, если задан, выводит идемпотентный ключ из полезной нагрузки,
// когда вызывающий не прислал собственный.
type Tool struct {
	Name      string
	NewInput  func() any
	DeriveKey func(scope models.AuthenticatedUser, input any) string
	Resolve   func(ctx context.Context, scope models.AuthenticatedUser, input any) (any, error)
}

// Result — исход вызова инструмента в форме, пригодной для плана и ответа.
type Result struct {
	Tool     string          `json:"tool"`
	Status   string          `json:"status"`
	Code     string          `json:"code,omitempty"`
	Error    string          `json:"error,omitempty"`
	Details  any             `json:"details,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Replayed bool            `json:"replayed"`
}

// Registry хранит инструменты и выполняет идемпотентный протокол вызова.
type Registry struct {
	tools       map[string]Tool
	idempotency *repository.IdempotencyRepository
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewRegistry создает реестр инструментов.
func NewRegistry(idempotency *repository.IdempotencyRepository, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:       make(map[string]Tool),
		idempotency: idempotency,
		validate:    validator.New(),
		logger:      logger,
	}
}

// Register добавляет инструмент в реестр.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name] = tool
}

// Has сообщает, зарегистрирован ли инструмент.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Invoke выполняет протокол вызова: валидация входа, захват идемпотентной
// записи, реплей сохраненного ответа либо запуск резолвера с фиксацией
// результата. Ошибка резолвера снимает блокировку и разрешает повтор.
func (r *Registry) Invoke(ctx context.Context, scope models.AuthenticatedUser, name string, input map[string]any) Result {
	tool, ok := r.tools[name]
	if !ok {
		return Result{Tool: name, Status: StatusError, Code: string(apperr.CodeNotFound), Error: "tool is not registered"}
	}

	payload, err := canonicalJSON(input)
	if err != nil {
		return Result{Tool: name, Status: StatusError, Code: string(apperr.CodeValidation), Error: "input is not serialisable"}
	}

	typed := tool.NewInput()
	if err := json.Unmarshal(payload, typed); err != nil {
		return Result{Tool: name, Status: StatusError, Code: string(apperr.CodeValidation), Error: "input does not match the tool schema"}
	}
	if err := r.validate.Struct(typed); err != nil {
		return Result{
			Tool:    name,
			Status:  StatusError,
			Code:    string(apperr.CodeValidation),
			Error:   "input validation failed",
			Details: map[string]any{"issues": validationIssues(err)},
		}
	}

	idempotencyKey, _ := input["idempotencyKey"].(string)
	if idempotencyKey == "" && tool.DeriveKey != nil {
		idempotencyKey = tool.DeriveKey(scope, typed)
	}
	requestHash := hashPayload(payload)

	if idempotencyKey != "" && r.idempotency != nil {
		record, err := r.idempotency.Acquire(ctx, scope.TenantID, idempotencyKey, requestHash)
		if err != nil {
			if errors.Is(err, repository.ErrHashMatch) {
				return Result{Tool: name, Status: StatusError, Code: string(apperr.CodeIdempotency),
					Error: "idempotency key reused with a different payload"}
			}
			return r.failure(name, err)
		}
		if len(record.ResponsePayload) > 0 {
			return Result{Tool: name, Status: StatusOK, Data: record.ResponsePayload, Replayed: true}
		}
	}

	output, err := tool.Resolve(ctx, scope, typed)
	if err != nil {
		if idempotencyKey != "" && r.idempotency != nil {
			if releaseErr := r.idempotency.Release(ctx, scope.TenantID, idempotencyKey); releaseErr != nil {
				r.logger.Warn("idempotency release failed",
					slog.String("tool", name), slog.String("error", releaseErr.Error()))
			}
		}
		return r.failure(name, err)
	}

	data, err := json.Marshal(output)
	if err != nil {
		return r.failure(name, err)
	}

	if idempotencyKey != "" && r.idempotency != nil {
		if err := r.idempotency.Complete(ctx, scope.TenantID, idempotencyKey, data); err != nil {
			return r.failure(name, err)
		}
	}

	return Result{Tool: name, Status: StatusOK, Data: data, Replayed: false}
}

func (r *Registry) failure(name string, err error) Result {
	typed := apperr.From(err)
	return Result{Tool: name, Status: StatusError, Code: string(typed.Code), Error: typed.Message, Details: typed.Details}
}

// canonicalJSON сериализует вход с отсортированными ключами; encoding/json
// упорядочивает ключи map детерминированно.
func canonicalJSON(input map[string]any) ([]byte, error) {
	if input == nil {
		input = map[string]any{}
	}
	return json.Marshal(input)
}

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func validationIssues(err error) []string {
	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return []string{err.Error()}
	}

	issues := make([]string, 0, len(invalid))
	for _, field := range invalid {
		issues = append(issues, field.Namespace()+" failed "+field.Tag())
	}
	return issues
}
