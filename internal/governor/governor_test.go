package governor

import (
	"testing"

	"github.com/dompet-ai/orchestrator/internal/config"
)

func testConfig() config.GovernorConfig {
	return config.GovernorConfig{
		ChatPerMinute:        10,
		InsightsPerMinute:    6,
		SimulatePerMinute:    5,
		UploadCSVPerMinute:   3,
		PreferencesPerMinute: 10,
		Burst:                2,
	}
}

// TestAllowBurstThenLimit проверяет исчерпание ведра и подсказку retryAfter.
func TestAllowBurstThenLimit(t *testing.T) {
	g := New(testConfig())

	for i := 0; i < 2; i++ {
		if ok, _ := g.Allow(RouteChat, "user-1", "10.0.0.1"); !ok {
			t.Fatalf("request %d within burst must pass", i)
		}
	}

	ok, retryAfter := g.Allow(RouteChat, "user-1", "10.0.0.1")
	if ok {
		t.Fatal("expected rate limit after burst")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retryAfter hint, got %d", retryAfter)
	}
}

// TestAllowIsolatedBuckets проверяет изоляцию ведер разных идентичностей.
func TestAllowIsolatedBuckets(t *testing.T) {
	g := New(testConfig())

	for i := 0; i < 2; i++ {
		g.Allow(RouteChat, "user-1", "10.0.0.1")
	}
	if ok, _ := g.Allow(RouteChat, "user-1", "10.0.0.1"); ok {
		t.Fatal("user-1 must be limited")
	}

	if ok, _ := g.Allow(RouteChat, "user-2", "10.0.0.1"); !ok {
		t.Fatal("user-2 must have an independent bucket")
	}
	if ok, _ := g.Allow(RouteChat, "user-1", "10.0.0.2"); !ok {
		t.Fatal("a different remote address must have an independent bucket")
	}
	if ok, _ := g.Allow(RouteInsights, "user-1", "10.0.0.1"); !ok {
		t.Fatal("a different route class must have an independent bucket")
	}
}

// TestAllowUnknownRoute проверяет, что неизвестный класс маршрута свободен.
func TestAllowUnknownRoute(t *testing.T) {
	g := New(testConfig())

	for i := 0; i < 100; i++ {
		if ok, _ := g.Allow("unmetered", "user-1", "10.0.0.1"); !ok {
			t.Fatal("unmetered route must not be limited")
		}
	}
}
