package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/potholewatch/potholewatch/internal/aireport"
)

// GenerateAIReport returns a civic summary. Generation failures are reported
// inside the summary, never as an HTTP error.
func (c *Controller) GenerateAIReport(ctx echo.Context) error {
	var req aireport.Request
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	return ctx.JSON(http.StatusOK, c.ai.Summarize(ctx.Request().Context(), req))
}

// ChatRequest is the body of POST /ai/chat.
type ChatRequest struct {
	Message string          `json:"message"`
	History []aireport.Turn `json:"history"`
}

// Chat answers an assistant message.
func (c *Controller) Chat(ctx echo.Context) error {
	var req ChatRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.HandleError(ctx, nil, "Message is required", http.StatusBadRequest)
	}
	reply := c.ai.Chat(ctx.Request().Context(), req.Message, req.History)
	return ctx.JSON(http.StatusOK, map[string]string{"reply": reply})
}
