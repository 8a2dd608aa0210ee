package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyroom-seat-board/internal/live"
	"github.com/iliyamo/studyroom-seat-board/internal/middleware"
	"github.com/iliyamo/studyroom-seat-board/internal/model"
	"github.com/iliyamo/studyroom-seat-board/internal/occupancy"
	"github.com/iliyamo/studyroom-seat-board/internal/service"
)

// SeatHandler serves the student board.  All routes run behind JWTAuth.
type SeatHandler struct {
	Seats     *service.SeatService
	Hub       *live.Hub
	Heartbeat time.Duration
}

func NewSeatHandler(seats *service.SeatService, hub *live.Hub) *SeatHandler {
	if seats == nil || hub == nil {
		panic("nil dependency passed to NewSeatHandler")
	}
	return &SeatHandler{Seats: seats, Hub: hub, Heartbeat: defaultHeartbeat}
}

// boardResp is the student board: every seat of the layout in display order
// and the seat shown as the viewer's own.
type boardResp struct {
	Date        string                `json:"date"`
	ResolvedAt  time.Time             `json:"resolved_at"`
	AfterCutoff bool                  `json:"after_cutoff"`
	CutoffHour  int                   `json:"cutoff_hour"`
	Seats       []occupancy.SeatState `json:"seats"`
	MySeat      *occupancy.SeatState  `json:"my_seat"`
}

func (h *SeatHandler) render(date string, b occupancy.Board) boardResp {
	resp := boardResp{
		Date:        date,
		ResolvedAt:  b.ResolvedAt,
		AfterCutoff: b.AfterCutoff,
		CutoffHour:  h.Seats.Rules().CutoffHour,
		Seats:       b.States(h.Seats.Layout().Seats()),
	}
	if mine, ok := b.MySeat(); ok {
		resp.MySeat = &mine
	}
	return resp
}

func (h *SeatHandler) session(ctx context.Context, c echo.Context) (*service.Session, error) {
	id, ok := middleware.Identity(c)
	if !ok {
		return nil, echo.ErrUnauthorized
	}
	return h.Seats.OpenSession(ctx, id)
}

// Board handles GET /v1/seats.
func (h *SeatHandler) Board(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	sess, err := h.session(ctx, c)
	if err != nil {
		return failAuth(c, err)
	}
	b, err := h.Seats.Board(ctx, sess)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, h.render(sess.Date, b))
}

type claimResp struct {
	Action   string            `json:"action"`
	Seat     int               `json:"seat_number"`
	Released int               `json:"released_seat,omitempty"`
	Event    *model.UsageEvent `json:"event,omitempty"`
}

// Claim handles POST /v1/seats/:number/claim.  A new claim answers 201, a
// seat the student already holds answers 200 with action "noop", and a seat
// held by someone else answers 409 naming the occupant.
func (h *SeatHandler) Claim(c echo.Context) error {
	seat, err := strconv.Atoi(c.Param("number"))
	if err != nil || seat <= 0 {
		return badRequest(c, "invalid seat number")
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	sess, err := h.session(ctx, c)
	if err != nil {
		return failAuth(c, err)
	}

	res, err := h.Seats.Claim(ctx, sess, seat)
	if errors.Is(err, service.ErrSeatOccupied) {
		return c.JSON(http.StatusConflict, echo.Map{
			"error":    "seat is occupied",
			"code":     "seat_occupied",
			"occupant": res.Occupant,
		})
	}
	if err != nil {
		return fail(c, err)
	}
	if res.Action == occupancy.ClaimNoop {
		return c.JSON(http.StatusOK, claimResp{Action: res.Action.String(), Seat: seat})
	}
	return c.JSON(http.StatusCreated, claimResp{
		Action:   res.Action.String(),
		Seat:     seat,
		Released: res.Released,
		Event:    &res.Event,
	})
}

// Release handles POST /v1/seats/release.
func (h *SeatHandler) Release(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	sess, err := h.session(ctx, c)
	if err != nil {
		return failAuth(c, err)
	}
	ev, err := h.Seats.Release(ctx, sess)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"seat_number": ev.SeatNumber, "event": ev})
}

// Stream handles GET /v1/seats/stream.  Each ledger snapshot of today is
// sent as a "board" event carrying the whole board; a failed read is sent
// as an "error" event and the stream stays open for the next snapshot.
// When the room date rolls over the stream follows the new day.
func (h *SeatHandler) Stream(c echo.Context) error {
	id, ok := middleware.Identity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx := c.Request().Context()
	sess, err := h.openSession(ctx, id)
	if err != nil {
		return fail(c, err)
	}

	res := openStream(c)
	sub := h.Hub.Subscribe(sess.Date)
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
			if err := h.sendSnapshot(ctx, res, sess, snap); err != nil {
				return nil
			}
		case <-tick.C:
			if h.Seats.Today() != sess.Date {
				next, err := h.openSession(ctx, id)
				if err != nil {
					_ = writeEvent(res, "error", errorPayload(err))
					return nil
				}
				sub.Close()
				sess = next
				sub = h.Hub.Subscribe(sess.Date)
				continue
			}
			if err := writeHeartbeat(res); err != nil {
				return nil
			}
		}
	}
}

func (h *SeatHandler) openSession(ctx context.Context, id model.Identity) (*service.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return h.Seats.OpenSession(ctx, id)
}

func (h *SeatHandler) sendSnapshot(ctx context.Context, res *echo.Response, sess *service.Session, snap live.Snapshot) error {
	if snap.Err != nil {
		return writeEvent(res, "error", errorPayload(snap.Err))
	}
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	b := h.Seats.ResolveFor(rctx, sess, snap.Events)
	return writeEvent(res, "board", h.render(sess.Date, b))
}

// errorPayload is the errorBody of err for stream clients.
func errorPayload(err error) errorBody {
	_, code := statusOf(err)
	return errorBody{
		Error:     messageOf(code, err),
		Code:      code,
		Retryable: code == "unavailable",
	}
}

// failAuth is fail with a 401 for requests that carry no identity.
func failAuth(c echo.Context, err error) error {
	if errors.Is(err, echo.ErrUnauthorized) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return fail(c, err)
}
