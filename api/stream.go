package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Andrey79999/kanban/domain"
	"github.com/Andrey79999/kanban/stream"
)

const heartbeatInterval = 25 * time.Second

// streamEvents serves the SSE feed. The handshake is the request itself:
// clients pass their id via the client_id query parameter (one is assigned
// when absent) and from then on only read. A second connection reusing a
// live id is rejected with 409.
func streamEvents(hub Streamer, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.QueryParam("client_id")
		if id == "" {
			id = uuid.NewString()
		}

		sub, err := hub.Register(id)
		if err != nil {
			if errors.Is(err, domain.ErrDuplicateClient) {
				return c.JSON(http.StatusConflict, errorResponse{Error: "client id already connected"})
			}
			return writeError(c, err)
		}
		defer hub.Unregister(id)

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().WriteHeader(http.StatusOK)

		welcome, err := stream.EncodeConnected(id, hub.Count())
		if err != nil {
			return err
		}
		if err := writeFrame(c, flusher, welcome); err != nil {
			return nil
		}
		logger.WithField("client_id", id).Debug("stream connected")

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()
		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				logger.WithField("client_id", id).Debug("stream closed")
				return nil
			case <-sub.Done():
				// The hub dropped this connection; stop instead of idling
				// on heartbeats.
				logger.WithField("client_id", id).Debug("stream dropped by hub")
				return nil
			case data := <-sub.Frames():
				if err := writeFrame(c, flusher, data); err != nil {
					return nil
				}
			case <-heartbeat.C:
				// Comment frame keeps idle connections alive through proxies.
				if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func writeFrame(c echo.Context, flusher http.Flusher, data []byte) error {
	if _, err := c.Response().Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := c.Response().Write(data); err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
