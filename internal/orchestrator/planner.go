package orchestrator

import (
	"github.com/dompet-ai/orchestrator/internal/models"
	"github.com/dompet-ai/orchestrator/internal/tools"
)

// Порог уверенности классификатора, ниже которого ответ обязан содержать
// уточняющий вопрос, а шаги-инструменты понижаются до no-op.
const LowConfidenceThreshold = 0.4

// ClarifierQuestion — единственное уточняющее предложение ответа.
const ClarifierQuestion = "Could you clarify your request so I can recommend the right action?"

// BuildPlan строит план по намерению через фиксированное соответствие.
// Идентификаторы шагов глобально уникальны, зависимость — по ссылке на id.
func BuildPlan(classification models.IntentClassification) models.Plan {
	switch classification.Intent {
	case models.IntentRecordTransaction:
		return models.Plan{
			Intent: classification.Intent,
			Steps: []models.PlanStep{
				{
					ID:          "extract-transaction",
					Type:        models.StepTypeLLM,
					Description: "Extract the transaction details from the user message",
					Action:      "extract-transaction",
				},
				{
					ID:          "persist-transaction",
					Type:        models.StepTypeTool,
					Description: "Persist the extracted transaction",
					Tool:        tools.ToolTransactionsCreate,
					DependsOn:   []string{"extract-transaction"},
				},
				{
					ID:          "respond-user",
					Type:        models.StepTypeSynthesis,
					Description: "Confirm the recorded transaction to the user",
					DependsOn:   []string{"persist-transaction"},
				},
			},
		}

	case models.IntentBudgetSummary:
		return models.Plan{
			Intent: classification.Intent,
			Steps: []models.PlanStep{
				{
					ID:          "retrieve-context",
					Type:        models.StepTypeRetrieval,
					Description: "Retrieve prior months from the vector memory",
				},
				{
					ID:          "summarize-month",
					Type:        models.StepTypeLLM,
					Description: "Summarise the current month with retrieved context",
					Action:      "summarize-month",
					DependsOn:   []string{"retrieve-context"},
				},
				{
					ID:          "respond-user",
					Type:        models.StepTypeSynthesis,
					Description: "Deliver the validated monthly summary",
					DependsOn:   []string{"summarize-month"},
				},
			},
		}

	case models.IntentGeneralQuestion:
		return models.Plan{
			Intent: classification.Intent,
			Steps: []models.PlanStep{
				{
					ID:          "retrieve-context",
					Type:        models.StepTypeRetrieval,
					Description: "Retrieve relevant financial history",
				},
				{
					ID:          "respond-user",
					Type:        models.StepTypeSynthesis,
					Description: "Answer strictly within the retrieved context",
					DependsOn:   []string{"retrieve-context"},
				},
			},
		}

	default:
		return models.Plan{
			Intent: models.IntentUnknown,
			Steps: []models.PlanStep{
				{
					ID:          "respond-user",
					Type:        models.StepTypeSynthesis,
					Description: "Tell the user this request is not supported yet",
				},
			},
		}
	}
}
