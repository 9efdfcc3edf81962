package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dompet-ai/orchestrator/internal/apperr"
	"github.com/dompet-ai/orchestrator/internal/auth"
	"github.com/dompet-ai/orchestrator/internal/config"
	"github.com/dompet-ai/orchestrator/internal/governor"
	"github.com/dompet-ai/orchestrator/internal/handlers"
	"github.com/dompet-ai/orchestrator/internal/llm"
	"github.com/dompet-ai/orchestrator/internal/memory"
	"github.com/dompet-ai/orchestrator/internal/notifications"
	"github.com/dompet-ai/orchestrator/internal/orchestrator"
	"github.com/dompet-ai/orchestrator/internal/repository"
	"github.com/dompet-ai/orchestrator/internal/tools"
)

// New собирает HTTP-сервер Echo с роутами и зависимостями оркестратора.
func New(cfg config.Config, logger *slog.Logger, db *pgxpool.Pool) *echo.Echo {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	e.Use(requestTimeout(cfg.Server.RequestTimeout))

	tokenManager := auth.NewTokenManager(cfg.Auth.Secret, cfg.Auth.Issuer)

	var scopeStore auth.ScopeStore
	var customerRepo *repository.CustomerRepository
	var transactionRepo *repository.TransactionRepository
	var insightRepo *repository.InsightRepository
	var idempotencyRepo *repository.IdempotencyRepository
	var vectorStore *memory.Store

	if db != nil {
		customerRepo = repository.NewCustomerRepository(db)
		transactionRepo = repository.NewTransactionRepository(db)
		vectorStore = memory.New(db, cfg.Providers.EmbedDimensions)
		insightRepo = repository.NewInsightRepository(db, vectorStore)
		idempotencyRepo = repository.NewIdempotencyRepository(db)
		scopeStore = customerRepo
	}

	router := llm.NewRouter(cfg.Providers, logger)

	service := &tools.Service{
		Transactions: transactionRepo,
		Insights:     insightRepo,
		Router:       router,
		EmbedMode:    cfg.Providers.DefaultEmbedProvider,
		Logger:       logger,
	}

	registry := tools.NewRegistry(idempotencyRepo, logger)
	tools.RegisterCanonical(registry, service)

	executor := &orchestrator.Executor{
		Router:       router,
		Memory:       vectorStore,
		Insights:     insightRepo,
		Transactions: transactionRepo,
		Tools:        registry,
		Logger:       logger,
	}

	chatPipeline := &orchestrator.Orchestrator{
		Router:   router,
		Executor: executor,
		Service:  service,
		Logger:   logger,
	}

	hub := notifications.NewHub()
	limiter := governor.New(cfg.Governor)

	chatHandler := handlers.NewChatHandler(chatPipeline, hub, logger)
	insightHandler := handlers.NewInsightHandler(service)
	simulateHandler := handlers.NewSimulateHandler(service)
	csvHandler := handlers.NewCSVHandler(service)
	benchmarkHandler := handlers.NewBenchmarkHandler(customerRepo, insightRepo,
		cfg.Privacy.AliasEmojiPool, cfg.Privacy.LeaderboardSize)
	preferencesHandler := handlers.NewPreferencesHandler(customerRepo)

	registerRoutes(
		e,
		chatHandler,
		insightHandler,
		simulateHandler,
		csvHandler,
		benchmarkHandler,
		preferencesHandler,
		auth.Middleware(tokenManager, scopeStore),
		limiter,
	)

	return e
}

// NewHTTPServer создает net/http сервер с заданными таймаутами.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.String("remote_ip", v.RemoteIP),
				slog.Duration("latency", v.Latency),
			}

			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}

			msg := "request completed"
			if v.Status >= http.StatusInternalServerError {
				logger.LogAttrs(c.Request().Context(), slog.LevelError, msg, attrs...)
				return nil
			}

			logger.LogAttrs(c.Request().Context(), slog.LevelInfo, msg, attrs...)
			return nil
		},
	})
}

// requestTimeout ограничивает каждый запрос дедлайном; дедлайн уходит во все
// нижележащие вызовы через контекст запроса.
func requestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// rateLimit списывает токен пер-идентичностного ведра; ответ при исчерпании —
// конверт RATE_LIMIT с подсказкой Retry-After.
func rateLimit(limiter *governor.Governor, routeClass string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := ""
			if user, ok := auth.UserFromContext(c); ok {
				userID = user.CustomerID.String()
			}

			ok, retryAfter := limiter.Allow(routeClass, userID, c.RealIP())
			if !ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				return c.JSON(apperr.HTTPStatus(apperr.CodeRateLimit), map[string]any{
					"code":    apperr.CodeRateLimit,
					"message": "rate limit exceeded",
					"details": map[string]any{"retryAfter": retryAfter},
				})
			}

			return next(c)
		}
	}
}
