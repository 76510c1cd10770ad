package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// MiddlewareConfig controls enforcement.
type MiddlewareConfig struct {
	// Disabled injects LocalDevSubject instead of checking tokens.
	Disabled bool
	Logger   *slog.Logger
}

// Middleware requires a valid bearer token and stores its claims in the
// request context.
func Middleware(verifier *Verifier, cfg MiddlewareConfig) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Disabled {
		logger.Warn("auth disabled; all requests run as " + LocalDevSubject)
	}

	return func(c *gin.Context) {
		if cfg.Disabled {
			claims := &Claims{
				Subject: LocalDevSubject,
				Issuer:  "local",
				Raw:     map[string]any{"sub": LocalDevSubject},
			}
			c.Request = c.Request.WithContext(WithClaims(c.Request.Context(), claims))
			c.Next()
			return
		}

		if verifier == nil {
			respond(c, http.StatusUnauthorized, "auth verifier not configured")
			return
		}

		token, ok := extractBearerToken(c.GetHeader("Authorization"))
		if !ok {
			logger.Info("auth failure: missing or malformed authorization header", "path", c.Request.URL.Path)
			respond(c, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			logger.Info("auth failure: token invalid", "path", c.Request.URL.Path, "error", err)
			respond(c, http.StatusUnauthorized, "invalid token")
			return
		}

		c.Request = c.Request.WithContext(WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}

// RequireSubject rejects requests whose path parameter param differs from
// the token subject. Tokens with the service_role role may act for any user.
func RequireSubject(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c.Request.Context())
		if !ok {
			respond(c, http.StatusUnauthorized, "unauthenticated")
			return
		}
		if claims.Subject == LocalDevSubject || claims.Role == ServiceRole {
			c.Next()
			return
		}
		if c.Param(param) != claims.Subject {
			respond(c, http.StatusForbidden, "token subject does not match user")
			return
		}
		c.Next()
	}
}

// ServiceRole is the role claim of backend service tokens.
const ServiceRole = "service_role"

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respond(c *gin.Context, status int, message string) {
	code := "unauthorized"
	if status == http.StatusForbidden {
		code = "forbidden"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message, "code": code})
}
