package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/dompet-ai/orchestrator/internal/apperr"
	"github.com/dompet-ai/orchestrator/internal/models"
	"github.com/dompet-ai/orchestrator/internal/tools"
)

type fakeInvoker struct {
	invoked []string
	result  tools.Result
}

func (f *fakeInvoker) Has(name string) bool { return true }

func (f *fakeInvoker) Invoke(ctx context.Context, scope models.AuthenticatedUser, name string, input map[string]any) tools.Result {
	f.invoked = append(f.invoked, name)
	result := f.result
	result.Tool = name
	return result
}

func userTurn(content string) []models.ConversationMessage {
	return []models.ConversationMessage{{Role: "user", Content: content}}
}

// TestBuildPlanMappings проверяет фиксированное соответствие намерение-план.
func TestBuildPlanMappings(t *testing.T) {
	cases := []struct {
		intent models.Intent
		steps  []string
	}{
		{models.IntentRecordTransaction, []string{"extract-transaction", "persist-transaction", "respond-user"}},
		{models.IntentBudgetSummary, []string{"retrieve-context", "summarize-month", "respond-user"}},
		{models.IntentGeneralQuestion, []string{"retrieve-context", "respond-user"}},
		{models.IntentUnknown, []string{"respond-user"}},
	}

	for _, tc := range cases {
		plan := BuildPlan(models.IntentClassification{Intent: tc.intent, Confidence: 0.9})
		if len(plan.Steps) != len(tc.steps) {
			t.Fatalf("%s: expected %d steps, got %d", tc.intent, len(tc.steps), len(plan.Steps))
		}
		for i, id := range tc.steps {
			if plan.Steps[i].ID != id {
				t.Fatalf("%s: step %d expected %s, got %s", tc.intent, i, id, plan.Steps[i].ID)
			}
		}
	}
}

// TestExecuteUnknownIntent проверяет фиксированный ответ неизвестного
// намерения.
func TestExecuteUnknownIntent(t *testing.T) {
	executor := &Executor{}
	classification := models.IntentClassification{Intent: models.IntentUnknown, Confidence: 0.9}
	plan := BuildPlan(classification)

	state, err := executor.Execute(context.Background(), models.AuthenticatedUser{}, userTurn("???"), classification, plan, chatOptions())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if state.FinalMessage != unknownIntentReply {
		t.Fatalf("unexpected final message: %q", state.FinalMessage)
	}
	if state.Followup != "" {
		t.Fatalf("unexpected followup: %q", state.Followup)
	}
}

// TestExecuteLowConfidenceDemotesTools проверяет уточнение и отсутствие
// побочных эффектов при низкой уверенности.
func TestExecuteLowConfidenceDemotesTools(t *testing.T) {
	invoker := &fakeInvoker{}
	executor := &Executor{Tools: invoker}

	classification := models.IntentClassification{Intent: models.IntentRecordTransaction, Confidence: 0.2}
	plan := models.Plan{
		Intent: classification.Intent,
		Steps: []models.PlanStep{
			{ID: "persist-transaction", Type: models.StepTypeTool, Tool: tools.ToolTransactionsCreate},
			{ID: "respond-user", Type: models.StepTypeSynthesis, DependsOn: []string{"persist-transaction"}},
		},
	}

	state, err := executor.Execute(context.Background(), models.AuthenticatedUser{}, userTurn("maybe something with money?"), classification, plan, chatOptions())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if state.Followup != ClarifierQuestion {
		t.Fatalf("expected clarifier followup, got %q", state.Followup)
	}
	if len(invoker.invoked) != 0 {
		t.Fatalf("expected no tool invocations, got %v", invoker.invoked)
	}
	if len(state.ToolResults) != 1 || state.ToolResults[0].Status != tools.StatusSkipped {
		t.Fatalf("expected a skipped tool result, got %+v", state.ToolResults)
	}
}

// TestExecuteDependencyUnmet проверяет отказ на невыполненной зависимости.
func TestExecuteDependencyUnmet(t *testing.T) {
	executor := &Executor{}
	classification := models.IntentClassification{Intent: models.IntentUnknown, Confidence: 0.9}
	plan := models.Plan{
		Intent: classification.Intent,
		Steps: []models.PlanStep{
			{ID: "respond-user", Type: models.StepTypeSynthesis, DependsOn: []string{"missing-step"}},
		},
	}

	_, err := executor.Execute(context.Background(), models.AuthenticatedUser{}, userTurn("hi"), classification, plan, chatOptions())
	if err == nil {
		t.Fatal("expected dependency error")
	}
	var typed *apperr.Error
	if !errors.As(err, &typed) || typed.Code != apperr.CodePlanDependency {
		t.Fatalf("expected PLAN_DEPENDENCY_UNMET, got %v", err)
	}
}

// TestSynthesizeRecordTransaction проверяет формат подтверждения записи.
func TestSynthesizeRecordTransaction(t *testing.T) {
	executor := &Executor{}
	amount := 125000.0

	state := &State{
		StepResults: map[string]any{
			"extract-transaction": models.ExtractedTransaction{
				Amount:     &amount,
				Currency:   "IDR",
				Merchant:   "warung makan",
				OccurredAt: "2024-05-11T12:00:00Z",
			},
			"persist-transaction": tools.Result{Status: tools.StatusOK, Data: json.RawMessage(`{}`)},
		},
		ResultData: map[string]any{},
	}

	executor.synthesizeRecordTransaction(state)

	pattern := regexp.MustCompile(`^Got it! I've recorded IDR 125000\.00 for .+ on .+\. Anything else you need\?$`)
	if !pattern.MatchString(state.FinalMessage) {
		t.Fatalf("reply %q does not match the required format", state.FinalMessage)
	}
}

// TestSynthesizeRecordTransactionDefaults проверяет заполнители продавца и
// даты.
func TestSynthesizeRecordTransactionDefaults(t *testing.T) {
	executor := &Executor{}
	amount := 42.5

	state := &State{
		StepResults: map[string]any{
			"extract-transaction": models.ExtractedTransaction{Amount: &amount},
			"persist-transaction": tools.Result{Status: tools.StatusOK, Data: json.RawMessage(`{}`)},
		},
		ResultData: map[string]any{},
	}

	executor.synthesizeRecordTransaction(state)

	want := "Got it! I've recorded MYR 42.50 for the merchant on the specified date. Anything else you need?"
	if state.FinalMessage != want {
		t.Fatalf("expected %q, got %q", want, state.FinalMessage)
	}
}

// TestSynthesizeRecordTransactionFailure проверяет извинение при провале
// записи и нулевой код в полезной нагрузке.
func TestSynthesizeRecordTransactionFailure(t *testing.T) {
	executor := &Executor{}

	state := &State{
		StepResults: map[string]any{
			"persist-transaction": tools.Result{Status: tools.StatusError, Error: "db down"},
		},
		ResultData: map[string]any{},
	}

	executor.synthesizeRecordTransaction(state)

	if state.FinalMessage != persistFailedReply {
		t.Fatalf("unexpected message: %q", state.FinalMessage)
	}
	if code, ok := state.ResultData["code"]; !ok || code != nil {
		t.Fatalf("expected nil code in result data, got %v", state.ResultData)
	}
}

func chatOptions() Options { return Options{} }
