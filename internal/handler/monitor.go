package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyroom-seat-board/internal/live"
	"github.com/iliyamo/studyroom-seat-board/internal/occupancy"
	"github.com/iliyamo/studyroom-seat-board/internal/service"
)

// MonitorHandler serves the teacher's room monitor and the public layout.
// The monitor resolves the board for an anonymous viewer, so no seat is
// ever shown as "mine".
type MonitorHandler struct {
	Seats     *service.SeatService
	Hub       *live.Hub
	Heartbeat time.Duration
}

func NewMonitorHandler(seats *service.SeatService, hub *live.Hub) *MonitorHandler {
	if seats == nil || hub == nil {
		panic("nil dependency passed to NewMonitorHandler")
	}
	return &MonitorHandler{Seats: seats, Hub: hub, Heartbeat: defaultHeartbeat}
}

type monitorResp struct {
	Date        string                `json:"date"`
	ResolvedAt  time.Time             `json:"resolved_at"`
	AfterCutoff bool                  `json:"after_cutoff"`
	Summary     occupancy.Summary     `json:"summary"`
	Seats       []occupancy.SeatState `json:"seats"`
}

func (h *MonitorHandler) render(date string, b occupancy.Board) monitorResp {
	seats := h.Seats.Layout().Seats()
	return monitorResp{
		Date:        date,
		ResolvedAt:  b.ResolvedAt,
		AfterCutoff: b.AfterCutoff,
		Summary:     occupancy.Summarize(b, seats),
		Seats:       b.States(seats),
	}
}

// Monitor handles GET /v1/monitor.
func (h *MonitorHandler) Monitor(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	date := h.Seats.Today()
	b, err := h.Seats.MonitorBoard(ctx)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, h.render(date, b))
}

// Stream handles GET /v1/monitor/stream with the same event names as the
// student stream: "board" per snapshot, "error" for a failed read.
func (h *MonitorHandler) Stream(c echo.Context) error {
	ctx := c.Request().Context()
	res := openStream(c)
	date := h.Seats.Today()
	sub := h.Hub.Subscribe(date)
	defer func() { sub.Close() }()
	tick := time.NewTicker(heartbeatOr(h.Heartbeat))
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return nil
			}
			var err error
			if snap.Err != nil {
				err = writeEvent(res, "error", errorPayload(snap.Err))
			} else {
				err = writeEvent(res, "board", h.render(date, h.Seats.ResolveAnonymous(snap.Events)))
			}
			if err != nil {
				return nil
			}
		case <-tick.C:
			if today := h.Seats.Today(); today != date {
				sub.Close()
				date = today
				sub = h.Hub.Subscribe(date)
				continue
			}
			if err := writeHeartbeat(res); err != nil {
				return nil
			}
		}
	}
}

// Layout handles GET /v1/layout.  The response only changes with
// configuration, so it is served through the response cache.
func (h *MonitorHandler) Layout(c echo.Context) error {
	lay := h.Seats.Layout()
	return c.JSON(http.StatusOK, echo.Map{
		"name":        lay.Name,
		"blocks":      lay.Blocks,
		"total":       lay.Len(),
		"cutoff_hour": h.Seats.Rules().CutoffHour,
	})
}
