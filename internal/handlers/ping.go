// Package handlers holds the HTTP surface: liveness, archived message
// listing, and the WebSocket upgrade endpoint.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/chatmirror/chatmirror/internal/version"
)

// PingHandler serves the liveness endpoints.
type PingHandler struct {
	logger  *slog.Logger
	started time.Time
}

// pingResponse identifies the service and how long it has been up.
type pingResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

func NewPingHandler(log *slog.Logger) *PingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PingHandler{
		logger:  log.With(slog.String("handler", "ping")),
		started: time.Now(),
	}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, pingResponse{
		Status:  "ok",
		Service: "chatmirror",
		Version: version.Version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
