package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/chatmirror/chatmirror/internal/message"
)

// Lister reads archived messages. The archive satisfies it.
type Lister interface {
	ListByChat(ctx context.Context, chatID int64, limit, offset int) ([]message.Message, error)
}

type MessagesHandler struct {
	logger *slog.Logger
	lister Lister
}

func NewMessagesHandler(log *slog.Logger, lister Lister) *MessagesHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MessagesHandler{
		logger: log.With(slog.String("handler", "messages")),
		lister: lister,
	}
}

func (h *MessagesHandler) Register(e *echo.Echo) {
	e.GET("/chats/:id/messages", h.List)
}

// List returns a page of archived messages for the chat.
func (h *MessagesHandler) List(c echo.Context) error {
	chatID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid chat id")
	}
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	msgs, err := h.lister.ListByChat(c.Request().Context(), chatID, limit, offset)
	if err != nil {
		h.logger.Error("list messages failed",
			slog.Int64("chat_id", chatID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "list messages failed")
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	})
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
