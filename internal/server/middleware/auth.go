// Package middleware holds the gin middleware for the gateway edge: bearer
// auth for the OpenAI-compatible surface, cookie-session auth for the admin
// surface, and CORS.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/DreamFate/DeepClaude/internal/auth"
	"github.com/DreamFate/DeepClaude/internal/data/db"
	"github.com/DreamFate/DeepClaude/internal/typ"
)

// SessionCookie is the admin session cookie name.
const SessionCookie = "auth_token"

// ErrorResponse is the OpenAI-style error envelope for auth failures.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the failure message and machine-readable type.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// AuthMiddleware authenticates both surfaces: callers of /v1 present the
// gateway api_key as a bearer token, admin clients present the JWT session
// cookie issued by /auth/verify.
type AuthMiddleware struct {
	store      *db.Store
	jwtManager *auth.JWTManager
}

// NewAuthMiddleware builds the middleware over the settings store and the
// session token manager.
func NewAuthMiddleware(store *db.Store, jwtManager *auth.JWTManager) *AuthMiddleware {
	return &AuthMiddleware{store: store, jwtManager: jwtManager}
}

// GatewayAuth checks the Authorization bearer token (or X-Api-Key header)
// against the stored api_key setting. The setting is read per request so a
// rotated key applies immediately.
func (am *AuthMiddleware) GatewayAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			token = c.GetHeader("X-Api-Key")
		}
		if token == "" {
			abortUnauthorized(c, "Authorization header required")
			return
		}

		setting, err := am.store.GetSetting(typ.SettingAPIKey)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: ErrorDetail{
					Message: "gateway api key is not configured",
					Type:    "api_error",
				},
			})
			c.Abort()
			return
		}
		if token != setting.Value {
			abortUnauthorized(c, "Invalid API key")
			return
		}
		c.Next()
	}
}

// SessionAuth validates the admin session cookie set by /auth/verify.
func (am *AuthMiddleware) SessionAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(SessionCookie)
		if err != nil || token == "" {
			abortUnauthorized(c, "Not authenticated")
			return
		}
		if _, err := am.jwtManager.ValidateToken(token); err != nil {
			abortUnauthorized(c, "Invalid or expired session")
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.JSON(http.StatusUnauthorized, ErrorResponse{
		Error: ErrorDetail{
			Message: msg,
			Type:    "invalid_request_error",
		},
	})
	c.Abort()
}

// CORS allows the management UI to be served from a different origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		c.Writer.Header().Set("Access-Control-Max-Age", "43200")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
