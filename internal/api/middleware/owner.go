package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	// OwnerIDHeader carries the opaque caller identity
	OwnerIDHeader = "X-Owner-ID"
	// MaxOwnerIDLength is the longest accepted owner id
	MaxOwnerIDLength = 128

	ownerIDKey = "owner_id"
)

// RequireOwner stores the X-Owner-ID header in the context. A missing
// header is rejected with 401 and an oversized one with 400.
func RequireOwner() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := strings.TrimSpace(c.Request().Header.Get(OwnerIDHeader))
			if id == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing "+OwnerIDHeader+" header")
			}
			if len(id) > MaxOwnerIDLength {
				return echo.NewHTTPError(http.StatusBadRequest, OwnerIDHeader+" header is too long")
			}
			c.Set(ownerIDKey, id)
			return next(c)
		}
	}
}

// OwnerID returns the identity stored by RequireOwner, or "".
func OwnerID(c echo.Context) string {
	id, _ := c.Get(ownerIDKey).(string)
	return id
}
