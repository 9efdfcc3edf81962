package insight

import (
	"testing"
)

// TestSuggestActionsOrderAndTriggers проверяет порядок правил и их условия.
func TestSuggestActionsOrderAndTriggers(t *testing.T) {
	// Низкие накопления, высокая доля расходов, высокий долг, мало
	// инвестиций и отрицательный денежный поток.
	kpis := kpiSet(10_000, 9_500, 600, 500, 5_000)
	health := ScoreHealth(kpis)

	actions := SuggestActions(kpis, health)

	wantOrder := []string{
		ActionImproveSavings,
		ActionOptimizeExpenses,
		ActionAccelerateDebt,
		ActionBoostInvestments,
		ActionGrowIncome,
	}
	if len(actions) != len(wantOrder) {
		t.Fatalf("expected %d actions, got %d", len(wantOrder), len(actions))
	}
	for i, want := range wantOrder {
		if actions[i].ID != want {
			t.Fatalf("action %d: expected %s, got %s", i, want, actions[i].ID)
		}
	}

	seen := map[string]bool{}
	for _, action := range actions {
		if seen[action.ID] {
			t.Fatalf("duplicate action id %s", action.ID)
		}
		seen[action.ID] = true
		if action.Rationale == "" || action.ExpectedImpact == "" {
			t.Fatalf("action %s missing rationale or impact", action.ID)
		}
	}
}

// TestSuggestActionsStayTheCourse проверяет запасное действие.
func TestSuggestActionsStayTheCourse(t *testing.T) {
	// Все цели выполнены: высокие накопления и инвестиции, нет долга.
	kpis := kpiSet(10_000, 4_000, 2_000, 0, 0)
	health := ScoreHealth(kpis)

	actions := SuggestActions(kpis, health)
	if len(actions) != 1 || actions[0].ID != ActionStayTheCourse {
		t.Fatalf("expected stay-the-course only, got %v", actions)
	}
	if actions[0].Category != "savings" {
		t.Fatalf("expected savings category, got %s", actions[0].Category)
	}
}

// TestActionImpact проверяет формулы денежного эффекта и сдвига оценки.
func TestActionImpact(t *testing.T) {
	kpis := kpiSet(10_000, 9_000, 0, 0, 0)
	health := ScoreHealth(kpis)

	impact, scoreDelta := ActionImpact(kpis, health, "expense")

	// base = max(|1000|, 500, 100) = 1000; impact = 1000 * 0.30
	if impact != 300 {
		t.Fatalf("impact: expected 300, got %v", impact)
	}

	wantDelta := (1 - health.Total) * 0.30
	if wantDelta > 0.15 {
		wantDelta = 0.15
	}
	if scoreDelta != wantDelta {
		t.Fatalf("scoreDelta: expected %v, got %v", wantDelta, scoreDelta)
	}

	if impact, scoreDelta := ActionImpact(kpis, health, "unknown"); impact != 0 || scoreDelta != 0 {
		t.Fatalf("unknown category must yield zero impact")
	}
}
