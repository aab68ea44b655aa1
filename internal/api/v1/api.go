// Package api implements the /api/v1 JSON endpoints.
package api

import (
	"context"
	"crypto/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/potholewatch/potholewatch/internal/aireport"
	"github.com/potholewatch/potholewatch/internal/api/auth"
	mw "github.com/potholewatch/potholewatch/internal/api/middleware"
	"github.com/potholewatch/potholewatch/internal/buildinfo"
	"github.com/potholewatch/potholewatch/internal/civic"
	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/detection"
	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/logger"
	"github.com/potholewatch/potholewatch/internal/observability/metrics"
	"github.com/potholewatch/potholewatch/internal/predictions"
)

// Detector runs the upload workflow.
type Detector interface {
	Detect(ctx context.Context, up detection.Upload) (predictions.Record, error)
}

// Pinger checks the inference service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PersistenceState reports whether the history has been loaded.
type PersistenceState interface {
	State() predictions.State
}

// Notifier queues a message for city staff. It must not block.
type Notifier interface {
	Notify(title, message string)
}

// Deps are the services behind the endpoints. Civic and AI are optional;
// their routes are not registered when nil.
type Deps struct {
	Settings    *conf.Settings
	Store       *predictions.Store
	Persistence PersistenceState
	Detector    Detector
	Inference   Pinger
	Civic       *civic.Repository
	AI          *aireport.Service
	Notifier    Notifier // optional
	HTTPMetrics *metrics.HTTPMetrics
	BuildInfo   buildinfo.BuildInfo
	Logger      logger.Logger
}

// Controller owns the v1 route group.
type Controller struct {
	Group *echo.Group

	settings    *conf.Settings
	store       *predictions.Store
	persistence PersistenceState
	detector    Detector
	inference   Pinger
	civic       *civic.Repository
	ai          *aireport.Service
	notifier    Notifier
	metrics     *metrics.HTTPMetrics
	buildInfo   buildinfo.BuildInfo
	logger      logger.Logger

	auth       *auth.Middleware
	sseManager *SSEManager
	startTime  time.Time
}

// New registers the v1 routes on e.
func New(e *echo.Echo, deps Deps) (*Controller, error) {
	if deps.Settings == nil || deps.Store == nil || deps.Detector == nil {
		return nil, errors.Newf("api requires settings, store and detector").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	log := deps.Logger
	if log == nil {
		log = logger.Global().Module("api")
	}

	c := &Controller{
		Group:       e.Group("/api/v1"),
		settings:    deps.Settings,
		store:       deps.Store,
		persistence: deps.Persistence,
		detector:    deps.Detector,
		inference:   deps.Inference,
		civic:       deps.Civic,
		ai:          deps.AI,
		notifier:    deps.Notifier,
		metrics:     deps.HTTPMetrics,
		buildInfo:   deps.BuildInfo,
		logger:      log,
		startTime:   time.Now(),
	}
	c.auth = auth.NewMiddleware(deps.Settings.Security.Tokens, c.deny, log.Module("auth"))
	c.sseManager = NewSSEManager(deps.Store, deps.Settings.Predictions.MaxInlineImageLength, deps.HTTPMetrics, log.Module("sse"))

	c.initRoutes()
	return c, nil
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)
	c.Group.GET("/system", c.GetSystemInfo, c.auth.RequireRole(auth.RoleAdmin))

	c.Group.GET("/predictions", c.ListPredictions)
	c.Group.GET("/predictions/stats", c.PredictionStats)
	c.Group.GET("/predictions/stream", c.StreamPredictions)
	c.Group.GET("/predictions/:id", c.GetPrediction)
	c.Group.GET("/predictions/:id/export/:format", c.ExportPrediction)

	upload := []echo.MiddlewareFunc{c.auth.RequireRole(auth.RoleCitizen, auth.RoleAdmin)}
	if rl := c.settings.WebServer.RateLimit; rl.Enabled {
		upload = append(upload, mw.NewRateLimiter(mw.RateLimitConfig{
			Rate:  rl.Rate,
			Burst: rl.Burst,
			OnDeny: func(echo.Context) {
				if c.metrics != nil {
					c.metrics.RecordRateLimited()
				}
			},
		}))
	}
	c.Group.POST("/predictions", c.CreatePrediction, upload...)

	if c.civic != nil {
		c.initCivicRoutes()
	}
	if c.ai != nil {
		c.Group.POST("/ai/report", c.GenerateAIReport, c.auth.RequireRole(auth.RoleCitizen, auth.RoleAdmin))
		c.Group.POST("/ai/chat", c.Chat, c.auth.Authenticate)
	}
}

// Shutdown disconnects streaming clients.
func (c *Controller) Shutdown() {
	c.sseManager.Close()
	c.logger.Debug("API controller shut down")
}

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // Unique identifier for tracking this error
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates a short random identifier for error tracking.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError logs err and writes the error envelope.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		c.logger.Error("API error", fields...)
	} else {
		c.logger.Debug("API error", fields...)
	}
	return ctx.JSON(code, resp)
}

// HandleServiceError maps an error category onto an HTTP status.
func (c *Controller) HandleServiceError(ctx echo.Context, err error, message string) error {
	return c.HandleError(ctx, err, message, statusFor(err))
}

func statusFor(err error) int {
	var ee *errors.EnhancedError
	if !errors.As(err, &ee) {
		return http.StatusInternalServerError
	}
	switch ee.Category {
	case errors.CategoryValidation, errors.CategoryImage:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryAuth:
		return http.StatusForbidden
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryLimit:
		return http.StatusRequestEntityTooLarge
	case errors.CategoryTimeout:
		return http.StatusGatewayTimeout
	case errors.CategoryInference, errors.CategoryNetwork, errors.CategoryIntegration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// deny is the auth rejection writer.
func (c *Controller) deny(ctx echo.Context, status int, reason, message string) error {
	if c.metrics != nil {
		c.metrics.RecordAuthFailure(reason)
	}
	return c.HandleError(ctx, nil, message, status)
}

// queryLimit parses an optional positive limit parameter.
func (c *Controller) notify(title, message string) {
	if c.notifier != nil {
		c.notifier.Notify(title, message)
	}
}

func queryLimit(ctx echo.Context) (int, error) {
	raw := ctx.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.Newf("limit must be a positive integer").
			Component("api").
			Category(errors.CategoryValidation).
			Context("limit", raw).
			Build()
	}
	return n, nil
}

// pathID parses a numeric path parameter.
func pathID(ctx echo.Context) (uint, error) {
	n, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil || n == 0 {
		return 0, errors.Newf("invalid id %q", ctx.Param("id")).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return uint(n), nil
}
