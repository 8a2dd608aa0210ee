package middleware

// identity.go holds helpers that read what JWTAuth stored in the Echo
// context.  Handlers and the rate limiter use them instead of touching the
// context keys directly.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyroom-seat-board/internal/model"
)

func ctxString(c echo.Context, key string) string {
	s, _ := c.Get(key).(string)
	return s
}

// UserID returns the authenticated user id, or "anon" for public routes.
func UserID(c echo.Context) string {
	if s := ctxString(c, CtxUserID); s != "" {
		return s
	}
	return "anon"
}

// Identity returns the signed-in user, or false when the request carries no
// validated token.
func Identity(c echo.Context) (model.Identity, bool) {
	uid := ctxString(c, CtxUserID)
	if uid == "" {
		return model.Identity{}, false
	}
	return model.Identity{
		UID:   uid,
		Email: ctxString(c, CtxEmail),
		Role:  ctxString(c, CtxRole),
	}, true
}
