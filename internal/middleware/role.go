package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireRole aborts with 403 unless the role stored by JWTAuth is one of
// roles.  It must run after JWTAuth.  The body names the accepted roles so
// a student opening the monitor learns it needs a teacher account.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed[ctxString(c, CtxRole)] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "required_roles": roles})
			}
			return next(c)
		}
	}
}
