package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/net/netutil"

	mw "github.com/potholewatch/potholewatch/internal/api/middleware"
	v1 "github.com/potholewatch/potholewatch/internal/api/v1"
	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/logger"
	"github.com/potholewatch/potholewatch/internal/observability"
)

// Server is the HTTP server. It owns the echo instance, the middleware
// stack and the v1 controller.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	logger   logger.Logger
	metrics  *observability.Metrics

	apiController *v1.Controller
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		s.logger = log
	}
}

// WithMetrics serves the registry on the metrics path and records HTTP
// request metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates the server and registers every route.
func New(settings *conf.Settings, deps v1.Deps, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{config: config, settings: settings}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Global().Module("api")
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.HTTPErrorHandler = s.errorHandler
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()

	deps.Settings = settings
	if deps.Logger == nil {
		deps.Logger = s.logger
	}
	if s.metrics != nil && deps.HTTPMetrics == nil {
		deps.HTTPMetrics = s.metrics.HTTP
	}
	if err := s.setupRoutes(deps); err != nil {
		return nil, err
	}

	s.logger.Info("HTTP server initialized",
		logger.String("listen", config.Listen),
		logger.Bool("metrics", config.MetricsEnabled && s.metrics != nil))
	return s, nil
}

// setupMiddleware configures the echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())

	var observer mw.RequestObserver
	if s.metrics != nil {
		observer = s.metrics.HTTP
	}
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.logger.Module("access"), observer, func(c echo.Context) bool {
		return c.Path() == s.config.MetricsPath
	}))

	security := mw.SecurityConfig{AllowedOrigins: s.config.AllowedOrigins}
	s.echo.Use(mw.NewCORS(security))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders(security))
}

// setupRoutes registers the metrics endpoint and the v1 API.
func (s *Server) setupRoutes(deps v1.Deps) error {
	if s.config.MetricsEnabled && s.metrics != nil {
		s.echo.GET(s.config.MetricsPath, echo.WrapHandler(s.metrics.Handler()))
	}

	controller, err := v1.New(s.echo, deps)
	if err != nil {
		return fmt.Errorf("failed to initialize API v1: %w", err)
	}
	s.apiController = controller
	return nil
}

// errorHandler renders echo errors (unknown routes, body limit, rate limit)
// in the API error envelope.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			message = msg
		} else {
			message = http.StatusText(code)
		}
		// the envelope shows the cause, not echo's "code=..., message=..." text
		err = he.Internal
	}
	if code >= http.StatusInternalServerError && err != nil {
		s.logger.Error("unhandled request error",
			logger.String("path", c.Request().URL.Path),
			logger.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, v1.NewErrorResponse(err, message, code))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener. Connections beyond MaxConnections
// wait in the accept queue.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConnections)
	}
	s.echo.Listener = ln
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", logger.String("address", ln.Addr().String()))
		errCh <- s.echo.Start("")
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := s.Shutdown(); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown ends streams and stops the server within the shutdown timeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	// end SSE streams first, otherwise Shutdown waits for them
	if s.apiController != nil {
		s.apiController.Shutdown()
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.logger.Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
