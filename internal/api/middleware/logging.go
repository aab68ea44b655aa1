// Package middleware provides HTTP middleware components for the potholewatch
// API server.
package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/potholewatch/potholewatch/internal/logger"
)

// RequestObserver receives one call per completed request.
type RequestObserver interface {
	RecordRequest(method, path string, status int, seconds float64)
}

// NewRequestLogger creates a request logging middleware using
// RequestLoggerWithConfig.
func NewRequestLogger(log logger.Logger) echo.MiddlewareFunc {
	return NewRequestLoggerWithSkipper(log, nil, nil)
}

// NewRequestLoggerWithSkipper logs each request and reports it to observer
// when one is given. Metrics are labelled by route pattern, not raw URI.
func NewRequestLoggerWithSkipper(log logger.Logger, observer RequestObserver, skipper middleware.Skipper) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper:      skipper,
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		LogRoutePath: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if observer != nil {
				observer.RecordRequest(v.Method, v.RoutePath, v.Status, v.Latency.Seconds())
			}
			if log == nil {
				return nil
			}

			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", logger.RedactSensitiveData(v.URI)),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}
			log.WithContext(c.Request().Context()).Info("request", fields...)
			return nil
		},
	})
}
