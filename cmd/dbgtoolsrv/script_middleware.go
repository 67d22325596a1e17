package main

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/dbgtoolsrv/internal/scriptauth"
)

// scriptCallbackAuth gates the script-extension runner's callback
// route behind a bearer token minted by scriptauth.Authenticator.
// Requests without that prefix pass through untouched — this guards
// only the external-script surface, not the caller-facing tool API.
func scriptCallbackAuth(auth *scriptauth.Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !strings.HasPrefix(c.Path(), "/v1/scripts/") {
				return next(c)
			}

			header := c.Request().Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing script callback token")
			}

			scriptID, err := auth.Validate(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid script callback token")
			}
			c.Set("script_id", scriptID)
			return next(c)
		}
	}
}
