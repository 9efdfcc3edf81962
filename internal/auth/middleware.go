package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dompet-ai/orchestrator/internal/apperr"
	"github.com/dompet-ai/orchestrator/internal/models"
)

const ContextUserKey = "auth_user"

// ScopeStore лениво создает строки tenant и customer при первом обращении.
type ScopeStore interface {
	EnsureScope(ctx context.Context, tenantSlug, externalReference string) (models.Customer, error)
}

// Middleware проверяет bearer-токен, резолвит скоуп и кэширует его в контексте
// запроса. Без настроенного хранилища скоуп выводится только из токена.
func Middleware(manager *TokenManager, store ScopeStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString, err := bearerToken(c)
			if err != nil {
				return respondAuthError(c, apperr.New(apperr.CodeAuthRequired, err.Error()))
			}

			claims, err := manager.Parse(tokenString)
			if err != nil {
				if errors.Is(err, ErrTokenMissing) {
					return respondAuthError(c, apperr.New(apperr.CodeAuthRequired, "missing bearer token"))
				}
				return respondAuthError(c, apperr.New(apperr.CodeAuthInvalid, "token signature or expiry check failed"))
			}

			user := models.AuthenticatedUser{
				UserID:    claims.Subject,
				SessionID: claims.SessionID,
				Roles:     claims.Roles,
			}

			if store != nil {
				customer, err := store.EnsureScope(c.Request().Context(), claims.TenantID, claims.Subject)
				if err != nil {
					return respondAuthError(c, apperr.Wrap(apperr.CodeAuthInvalid, "scope resolution failed", err))
				}
				user.TenantID = customer.TenantID
				user.CustomerID = customer.ID
			} else {
				user.TenantID = deterministicID(claims.TenantID)
				user.CustomerID = deterministicID(claims.TenantID + ":" + claims.Subject)
			}

			c.Set(ContextUserKey, user)
			return next(c)
		}
	}
}

// UserFromContext извлекает аутентифицированного пользователя из контекста.
func UserFromContext(c echo.Context) (models.AuthenticatedUser, bool) {
	value := c.Get(ContextUserKey)
	user, ok := value.(models.AuthenticatedUser)
	return user, ok
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization header")
	}

	return token, nil
}

func deterministicID(value string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(value))
}

func respondAuthError(c echo.Context, err *apperr.Error) error {
	return c.JSON(apperr.HTTPStatus(err.Code), map[string]any{
		"code":    err.Code,
		"message": err.Message,
	})
}
