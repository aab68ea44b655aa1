// Package auth gates API routes by bearer token and role.
package auth

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/logger"
)

// bearerTokenParts is the expected number of parts when splitting the
// Authorization header.
const bearerTokenParts = 2

// Roles.
const (
	RoleCitizen = "citizen"
	RoleWorker  = "worker"
	RoleAdmin   = "admin"
)

// CtxKeyPrincipal holds the authenticated *Principal in echo.Context.
const CtxKeyPrincipal = "auth:principal"

// Failure reasons passed to DenyFunc and used as metric labels.
const (
	ReasonMissing   = "missing_token"
	ReasonMalformed = "malformed_header"
	ReasonInvalid   = "invalid_token"
	ReasonForbidden = "forbidden_role"
)

// Principal is the caller identified by a token.
type Principal struct {
	UserID string
	Role   string
}

// DenyFunc writes the rejection response.
type DenyFunc func(c echo.Context, status int, reason, message string) error

// Middleware authenticates requests against the configured tokens.
type Middleware struct {
	tokens []conf.TokenSettings
	deny   DenyFunc
	log    logger.Logger
}

// NewMiddleware creates the middleware. deny may be nil.
func NewMiddleware(tokens []conf.TokenSettings, deny DenyFunc, log logger.Logger) *Middleware {
	if deny == nil {
		deny = func(c echo.Context, status int, _, message string) error {
			return c.JSON(status, map[string]string{"error": message})
		}
	}
	if log == nil {
		log = logger.Global().Module("auth")
	}
	return &Middleware{tokens: slices.Clone(tokens), deny: deny, log: log}
}

// lookup compares token against every configured entry in constant time.
func (m *Middleware) lookup(token string) (*Principal, bool) {
	var found *Principal
	for _, t := range m.tokens {
		if subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) == 1 && found == nil {
			found = &Principal{UserID: t.UserID, Role: t.Role}
		}
	}
	return found, found != nil
}

// Authenticate requires any valid token.
func (m *Middleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireRole()(next)
}

// RequireRole requires a valid token whose role is one of roles. No roles
// means any authenticated caller.
func (m *Middleware) RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			ip := c.RealIP()

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				c.Response().Header().Set("WWW-Authenticate", `Bearer realm="api"`)
				return m.deny(c, http.StatusUnauthorized, ReasonMissing, "Authentication required")
			}

			parts := strings.SplitN(authHeader, " ", bearerTokenParts)
			if len(parts) != bearerTokenParts || !strings.EqualFold(parts[0], "bearer") {
				m.log.Warn("malformed Authorization header",
					logger.String("path", path),
					logger.String("ip", ip))
				c.Response().Header().Set("WWW-Authenticate", `Bearer realm="api"`)
				return m.deny(c, http.StatusUnauthorized, ReasonMalformed, "Invalid Authorization header")
			}

			principal, ok := m.lookup(strings.TrimSpace(parts[1]))
			if !ok {
				m.log.Warn("token validation failed",
					logger.String("path", path),
					logger.String("ip", ip))
				c.Response().Header().Set("WWW-Authenticate",
					`Bearer realm="api", error="invalid_token", error_description="Invalid token"`)
				return m.deny(c, http.StatusUnauthorized, ReasonInvalid, "Invalid token")
			}

			if len(roles) > 0 && !slices.Contains(roles, principal.Role) {
				m.log.Info("role not permitted",
					logger.String("path", path),
					logger.String("user_id", principal.UserID),
					logger.String("role", principal.Role))
				return m.deny(c, http.StatusForbidden, ReasonForbidden, "Insufficient permissions")
			}

			c.Set(CtxKeyPrincipal, principal)
			return next(c)
		}
	}
}

// PrincipalFrom returns the caller set by the middleware, or nil.
func PrincipalFrom(c echo.Context) *Principal {
	p, _ := c.Get(CtxKeyPrincipal).(*Principal)
	return p
}
