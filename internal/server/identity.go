package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// HeaderUserID carries the caller's identity. It is set by the session
// layer in front of this service.
const HeaderUserID = "X-User-ID"

const userIDKey = "user_id"

func requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
		if userID == "" {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "Please sign in."})
		}
		c.Set(userIDKey, userID)
		return next(c)
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}
