package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/potholewatch/potholewatch/internal/logger"
)

const healthPingTimeout = 3 * time.Second

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	BuildDate     string  `json:"build_date,omitempty"`
	Revision      string  `json:"revision,omitempty"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Predictions   int     `json:"predictions"`
	Persistence   string  `json:"persistence,omitempty"`
	Inference     string  `json:"inference"`
	SSEClients    int     `json:"sse_clients"`
	Timestamp     string  `json:"timestamp"`
}

// HealthCheck reports liveness. An unreachable inference service degrades
// the status but still answers 200.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	uptime := time.Since(c.startTime)
	resp := HealthResponse{
		Status:        "healthy",
		Version:       "dev",
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Predictions:   c.store.Len(),
		Inference:     "unknown",
		SSEClients:    c.sseManager.ClientCount(),
		Timestamp:     time.Now().Format(time.RFC3339),
	}
	if c.buildInfo != nil {
		resp.Version = c.buildInfo.GetVersion()
		resp.BuildDate = c.buildInfo.GetBuildDate()
		resp.Revision = c.buildInfo.GetRevision()
	}
	if c.persistence != nil {
		resp.Persistence = c.persistence.State().String()
	}

	if c.inference != nil {
		pingCtx, cancel := context.WithTimeout(ctx.Request().Context(), healthPingTimeout)
		defer cancel()
		if err := c.inference.Ping(pingCtx); err != nil {
			c.logger.Debug("inference health check failed", logger.Error(err))
			resp.Status = "degraded"
			resp.Inference = "unavailable"
		} else {
			resp.Inference = "ok"
		}
	}
	return ctx.JSON(http.StatusOK, resp)
}
