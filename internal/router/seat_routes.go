package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyroom-seat-board/internal/handler"
	"github.com/iliyamo/studyroom-seat-board/internal/middleware"
	"github.com/iliyamo/studyroom-seat-board/internal/model"
)

// RegisterStudent registers the student board, profile and history.  The
// limiter guards the write endpoints only; streams are long lived and reads
// are cheap compared to a ledger append.
func RegisterStudent(e *echo.Echo, s *handler.SeatHandler, p *handler.ProfileHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleStudent, model.RoleTeacher))

	g.GET("/me/profile", p.GetProfile)
	g.PUT("/me/profile", p.PutProfile, limiter)
	g.GET("/me/history", p.History)

	g.GET("/seats", s.Board)
	g.GET("/seats/stream", s.Stream)
	g.POST("/seats/release", s.Release, limiter)
	g.POST("/seats/:number/claim", s.Claim, limiter)
}

// RegisterMonitor registers the teacher monitor and the seat layout.  The
// layout is public so the board can render before sign-in.
func RegisterMonitor(e *echo.Echo, m *handler.MonitorHandler, jwtSecret string, cache echo.MiddlewareFunc) {
	e.GET("/v1/layout", m.Layout, cache)

	g := e.Group("/v1/monitor", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleTeacher))
	g.GET("", m.Monitor)
	g.GET("/stream", m.Stream)
}
