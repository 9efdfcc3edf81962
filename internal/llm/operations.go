package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/dompet-ai/orchestrator/internal/apperr"
	"github.com/dompet-ai/orchestrator/internal/models"
)

// Локальный финансовый контекст, который получают суммаризация и свободные
// ответы: малайзийские инструменты накоплений, привычные расходы и тон.
const malaysianContext = `MALAYSIAN FINANCIAL CONTEXT:
- Currency is Ringgit Malaysia; always write RM or MYR, never dollars.
- Savings vehicles: EPF (KWSP) accounts 1-3, ASB, Tabung Haji, fixed deposits
  at Maybank/CIMB/Public Bank, KWSP i-Saraan for the self-employed.
- Typical monthly costs: rent RM800-RM2,000, utilities (TNB, water, internet)
  RM250-RM450, food RM15-RM30 a day, petrol or transit RM100-RM400.
- Recognise local merchants: GrabFood, Foodpanda, Tesco, AEON, 99 Speedmart,
  Touch 'n Go, Shopee, Lazada.
- Keep the tone friendly Malaysian English; never suggest American retirement
  accounts such as 401k or IRA.`

const strictJSONDirective = "Respond with strict JSON only. No prose, no markdown, no code fences."

// SummarizeInput — вход месячной суммаризации.
type SummarizeInput struct {
	UserID       string
	Month        string
	Transactions []models.Transaction
	Context      []models.RetrievalDocument
	Tone         string
}

// ClassifyIntent определяет намерение последнего сообщения пользователя.
func (r *Router) ClassifyIntent(ctx context.Context, conversation []models.ConversationMessage, opts ChatOptions) (models.IntentClassification, error) {
	system := `You are the intent classifier of a personal finance assistant.
Classify the latest user message into exactly one intent:
record_transaction, budget_summary, general_question, unknown.
Respond with JSON only: {"intent": string, "confidence": number 0..1, "reasoning": string}.`

	messages := []Message{{Role: "system", Content: system}}
	messages = append(messages, renderConversation(conversation)...)

	var result models.IntentClassification
	err := r.chatJSON(ctx, messages, opts, &result, func() error {
		switch result.Intent {
		case models.IntentRecordTransaction, models.IntentBudgetSummary,
			models.IntentGeneralQuestion, models.IntentUnknown:
		default:
			return fmt.Errorf("unknown intent %q", result.Intent)
		}
		if result.Confidence < 0 || result.Confidence > 1 {
			return fmt.Errorf("confidence %v out of range", result.Confidence)
		}
		return nil
	})
	if err != nil {
		return models.IntentClassification{}, err
	}

	return result, nil
}

// ExtractTransaction вытаскивает структурированную транзакцию из текста.
// Исходный текст всегда возвращается в поле rawText.
func (r *Router) ExtractTransaction(ctx context.Context, text string, opts ChatOptions) (models.ExtractedTransaction, error) {
	system := `You extract a financial transaction from one user message.
Respond with JSON only:
{"amount": number, "currency": string, "occurredAt": ISO-8601 string,
 "merchant": string, "category": string, "notes": string, "description": string}.
Omit fields you cannot determine. Use a positive amount.`

	messages := []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: text},
	}

	var result models.ExtractedTransaction
	err := r.chatJSON(ctx, messages, opts, &result, func() error {
		if result.Amount != nil && *result.Amount < 0 {
			return fmt.Errorf("amount must not be negative")
		}
		return nil
	})
	if err != nil {
		return models.ExtractedTransaction{}, err
	}

	result.RawText = text
	return result, nil
}

// SummarizeMonth строит месячную сводку с локальным контекстом.
func (r *Router) SummarizeMonth(ctx context.Context, in SummarizeInput, opts ChatOptions) (models.MonthlySummary, error) {
	tone := in.Tone
	if tone == "" {
		tone = "supportive"
	}

	system := fmt.Sprintf(`You are a personal finance assistant summarising one month.
%s
Keep the tone %s.
Respond with JSON only:
{"summary": string, "highlights": [string], "savingsOpportunities": [string], "followUps": [string]}.`,
		malaysianContext, tone)

	var b strings.Builder
	fmt.Fprintf(&b, "Month: %s\n", in.Month)
	if len(in.Transactions) > 0 {
		b.WriteString("Transactions (date | description | amount):\n")
		for _, tx := range in.Transactions {
			description := ""
			if tx.Description != nil {
				description = *tx.Description
			}
			fmt.Fprintf(&b, "%s | %s | %s %s\n",
				tx.OccurredAt.Format("2006-01-02"), description, tx.Currency, tx.Amount.StringFixed(2))
		}
	}
	if len(in.Context) > 0 {
		b.WriteString("Prior months:\n")
		for _, doc := range in.Context {
			fmt.Fprintf(&b, "- %s\n", doc.Content)
		}
	}

	messages := []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}

	var result models.MonthlySummary
	err := r.chatJSON(ctx, messages, opts, &result, func() error {
		if strings.TrimSpace(result.Summary) == "" {
			return fmt.Errorf("summary is empty")
		}
		return nil
	})
	if err != nil {
		return models.MonthlySummary{}, err
	}

	return result, nil
}

// AnswerQuestion отвечает на свободный вопрос строго в рамках найденного
// контекста; при пустом контексте модель обязана сказать об этом.
func (r *Router) AnswerQuestion(ctx context.Context, conversation []models.ConversationMessage, documents []models.RetrievalDocument, opts ChatOptions) (string, error) {
	var contextBlock strings.Builder
	for _, doc := range documents {
		fmt.Fprintf(&contextBlock, "- %s\n", doc.Content)
	}

	system := fmt.Sprintf(`You are a personal finance assistant.
%s
Answer ONLY from the retrieved context below. If the context is empty or does
not cover the question, say you do not have enough financial history yet.
Retrieved context:
%s`, malaysianContext, contextBlock.String())

	messages := []Message{{Role: "system", Content: system}}
	messages = append(messages, renderConversation(conversation)...)

	result, err := r.Chat(ctx, messages, opts)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(result.Message.Content), nil
}

// chatJSON вызывает чат, коэрсит JSON и валидирует результат; на провале
// схемы делает один повтор с ужесточенной системной директивой, после чего
// отдает MODEL_OUTPUT_INVALID.
func (r *Router) chatJSON(ctx context.Context, messages []Message, opts ChatOptions, target any, validate func() error) error {
	result, err := r.Chat(ctx, messages, opts)
	if err != nil {
		return err
	}

	parseErr := CoerceJSON(result.Message.Content, target)
	if parseErr == nil {
		if err := validate(); err == nil {
			return nil
		}
	}

	strict := append([]Message{{Role: "system", Content: strictJSONDirective}}, messages...)
	result, err = r.Chat(ctx, strict, opts)
	if err != nil {
		return err
	}

	if err := CoerceJSON(result.Message.Content, target); err != nil {
		return err
	}
	if err := validate(); err != nil {
		return apperr.Wrap(apperr.CodeModelOutput, "model output failed schema validation", err)
	}

	return nil
}

func renderConversation(conversation []models.ConversationMessage) []Message {
	messages := make([]Message, 0, len(conversation))
	for _, message := range conversation {
		role := strings.ToLower(strings.TrimSpace(message.Role))
		if role == "" {
			role = "user"
		}
		messages = append(messages, Message{Role: role, Content: message.Content})
	}
	return messages
}
