package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"
)

// requireCSRF enforces the double-submit pattern: the header value must match
// the readable cookie issued at login.
func requireCSRF() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cookie, err := c.Cookie(csrfCookieName)
			if err != nil || cookie.Value == "" {
				return echo.NewHTTPError(http.StatusForbidden, "missing csrf token")
			}
			header := c.Request().Header.Get(csrfHeaderName)
			if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
				return echo.NewHTTPError(http.StatusForbidden, "csrf token mismatch")
			}
			return next(c)
		}
	}
}
