package server

import (
	"github.com/labstack/echo/v4"

	"github.com/dompet-ai/orchestrator/internal/governor"
	"github.com/dompet-ai/orchestrator/internal/handlers"
)

// registerRoutes вешает эндпоинты под /v1 и зеркалирует их под /api/v1
// для обратной совместимости; /v1 — канонический префикс.
func registerRoutes(
	e *echo.Echo,
	chatHandler *handlers.ChatHandler,
	insightHandler *handlers.InsightHandler,
	simulateHandler *handlers.SimulateHandler,
	csvHandler *handlers.CSVHandler,
	benchmarkHandler *handlers.BenchmarkHandler,
	preferencesHandler *handlers.PreferencesHandler,
	authMiddleware echo.MiddlewareFunc,
	limiter *governor.Governor,
) {
	for _, prefix := range []string{"/v1", "/api/v1"} {
		group := e.Group(prefix)

		group.GET("/healthz", handlers.Health)

		group.POST("/chat", chatHandler.Chat,
			authMiddleware, rateLimit(limiter, governor.RouteChat))

		group.GET("/insights", insightHandler.Get, authMiddleware)
		group.POST("/insights", insightHandler.Compute,
			authMiddleware, rateLimit(limiter, governor.RouteInsights))
		group.GET("/insights/recent", insightHandler.List, authMiddleware)
		group.GET("/score", insightHandler.Score, authMiddleware)

		group.POST("/simulate", simulateHandler.Run,
			authMiddleware, rateLimit(limiter, governor.RouteSimulate))

		group.POST("/upload-csv", csvHandler.Upload,
			authMiddleware, rateLimit(limiter, governor.RouteUploadCSV))

		group.GET("/benchmarks", benchmarkHandler.Benchmarks, authMiddleware)
		group.GET("/leaderboard", benchmarkHandler.Leaderboard, authMiddleware)

		group.GET("/preferences", preferencesHandler.Get, authMiddleware)
		group.POST("/preferences", preferencesHandler.Update,
			authMiddleware, rateLimit(limiter, governor.RoutePreferences))
	}
}
