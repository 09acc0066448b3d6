package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/chatmirror/chatmirror/internal/events"
)

type WSHandler struct {
	hub *events.Hub
}

func NewWSHandler(hub *events.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

func (h *WSHandler) Register(e *echo.Echo) {
	e.GET("/ws", h.Serve)
}

// Serve upgrades the connection and hands it to the hub for its lifetime.
func (h *WSHandler) Serve(c echo.Context) error {
	h.hub.Handle(c.Response(), c.Request())
	return nil
}
