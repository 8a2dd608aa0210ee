package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// defaultHeartbeat keeps idle streams open through proxies and doubles as
// the interval at which a stream checks whether the room date rolled over.
const defaultHeartbeat = 20 * time.Second

// openStream switches the response to server-sent events.
func openStream(c echo.Context) *echo.Response {
	res := c.Response()
	h := res.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()
	return res
}

// writeEvent sends one named event with a JSON payload.
func writeEvent(res *echo.Response, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}

func writeHeartbeat(res *echo.Response) error {
	if _, err := fmt.Fprint(res, ": heartbeat\n\n"); err != nil {
		return err
	}
	res.Flush()
	return nil
}

func heartbeatOr(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultHeartbeat
	}
	return d
}
