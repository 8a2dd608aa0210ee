package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyroom-seat-board/internal/history"
	"github.com/iliyamo/studyroom-seat-board/internal/middleware"
	"github.com/iliyamo/studyroom-seat-board/internal/model"
	"github.com/iliyamo/studyroom-seat-board/internal/service"
)

// ProfileHandler serves the signed-in student's own resources: the profile
// stamped on seat events and the usage history built from the ledger.
type ProfileHandler struct {
	Seats *service.SeatService
}

func NewProfileHandler(seats *service.SeatService) *ProfileHandler {
	return &ProfileHandler{Seats: seats}
}

// GetProfile handles GET /v1/me/profile.  A student who never saved one gets
// 428 profile_required, the same answer the board gives.
func (h *ProfileHandler) GetProfile(c echo.Context) error {
	id, ok := middleware.Identity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	p, err := h.Seats.Profile(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// PutProfile handles PUT /v1/me/profile.  Events already in the ledger keep
// the identity they were written with.
func (h *ProfileHandler) PutProfile(c echo.Context) error {
	id, ok := middleware.Identity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var p model.Profile
	if err := c.Bind(&p); err != nil {
		return badRequest(c, "invalid body")
	}
	p.StudentID = strings.TrimSpace(p.StudentID)
	p.StudentName = strings.TrimSpace(p.StudentName)

	ctx, cancel := withTimeout(c)
	defer cancel()
	if err := h.Seats.SaveProfile(ctx, id, p); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

type dayResp struct {
	history.Day
	Total string `json:"total"`
}

type monthResp struct {
	history.Month
	Total string `json:"total"`
}

type historyResp struct {
	Month  string      `json:"month,omitempty"`
	Days   []dayResp   `json:"days"`
	Months []monthResp `json:"months"`
}

// History handles GET /v1/me/history.  ?month=YYYY-MM limits the days to
// one calendar month; monthly totals are always complete.
func (h *ProfileHandler) History(c echo.Context) error {
	id, ok := middleware.Identity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	month := strings.TrimSpace(c.QueryParam("month"))
	if month != "" {
		if _, err := time.Parse("2006-01", month); err != nil {
			return badRequest(c, "month must be YYYY-MM")
		}
	}

	ctx, cancel := withTimeout(c)
	defer cancel()
	rep, err := h.Seats.History(ctx, id)
	if err != nil {
		return fail(c, err)
	}

	days := rep.Days
	if month != "" {
		days = rep.ForMonth(month)
	}
	resp := historyResp{Month: month, Days: make([]dayResp, 0, len(days)), Months: make([]monthResp, 0, len(rep.Months))}
	for _, d := range days {
		resp.Days = append(resp.Days, dayResp{Day: d, Total: history.FormatMinutes(d.TotalMinutes)})
	}
	for _, m := range rep.Months {
		resp.Months = append(resp.Months, monthResp{Month: m, Total: history.FormatMinutes(m.TotalMinutes)})
	}
	return c.JSON(http.StatusOK, resp)
}
