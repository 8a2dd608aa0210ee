package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyroom-seat-board/internal/repository"
	"github.com/iliyamo/studyroom-seat-board/internal/service"
	"github.com/iliyamo/studyroom-seat-board/internal/validate"
)

// requestTimeout bounds the store calls of one request.
const requestTimeout = 5 * time.Second

func withTimeout(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusOf maps a service or repository error to an HTTP status and a stable
// code clients can switch on.
func statusOf(err error) (int, string) {
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, service.ErrProfileRequired):
		return http.StatusPreconditionRequired, "profile_required"
	case errors.Is(err, service.ErrUnknownSeat):
		return http.StatusNotFound, "unknown_seat"
	case errors.Is(err, service.ErrSeatOccupied):
		return http.StatusConflict, "seat_occupied"
	case errors.Is(err, service.ErrNoActiveSeat):
		return http.StatusConflict, "no_active_seat"
	case errors.Is(err, service.ErrSeatChangeInFlight):
		return http.StatusConflict, "seat_change_in_flight"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, repository.ErrPermission):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, repository.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

// messageOf is the human readable part of an error response.  Store errors
// are described in user terms; the driver detail only goes to the log.
func messageOf(code string, err error) string {
	switch code {
	case "invalid_request":
		return validate.Message(err)
	case "permission_denied":
		return "the seat ledger refused this request; ask a teacher to check the room's access settings"
	case "unavailable":
		return "the seat ledger is not reachable right now; try again"
	case "internal":
		return "internal error"
	}
	return err.Error()
}

// fail writes err as an errorBody.
func fail(c echo.Context, err error) error {
	status, code := statusOf(err)
	if status >= http.StatusInternalServerError || status == http.StatusForbidden {
		log.Printf("handler: %s %s: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(status, errorBody{
		Error:     messageOf(code, err),
		Code:      code,
		Retryable: code == "unavailable" || code == "seat_change_in_flight",
	})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Error: msg, Code: "invalid_request"})
}
