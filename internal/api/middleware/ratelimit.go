package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimitConfig throttles requests per client IP with a token bucket.
type RateLimitConfig struct {
	Rate      float64       // tokens per second
	Burst     int           // bucket size
	ExpiresIn time.Duration // idle visitors are forgotten after this
	// OnDeny runs before the 429 response, e.g. to count the rejection.
	OnDeny func(c echo.Context)
}

// NewRateLimiter returns a per-IP rate limiting middleware. Denied requests
// get 429 with a Retry-After hint.
func NewRateLimiter(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.ExpiresIn <= 0 {
		cfg.ExpiresIn = 3 * time.Minute
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.Rate),
		Burst:     cfg.Burst,
		ExpiresIn: cfg.ExpiresIn,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store:               store,
		IdentifierExtractor: middleware.DefaultRateLimiterConfig.IdentifierExtractor,
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "unable to identify client")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			if cfg.OnDeny != nil {
				cfg.OnDeny(c)
			}
			if cfg.Rate > 0 {
				retry := max(1, int(math.Ceil(1/cfg.Rate)))
				c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
			}
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many uploads, please wait before trying again")
		},
	})
}
