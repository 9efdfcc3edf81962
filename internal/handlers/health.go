package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health отвечает проверке живости сервиса.
func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
