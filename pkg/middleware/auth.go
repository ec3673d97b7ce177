package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/jwt"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/response"
)

const (
	UserIDKey     = "user_id"
	UsernameKey   = "username"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
	TokenQueryKey = "token"
)

// TokenValidator is satisfied by *jwt.Manager.
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// AuthMiddleware validates bearer tokens locally.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// RequireAuth returns a Gin middleware that validates JWT tokens.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request)
		if token == "" {
			response.Unauthorized(c, "missing authorization token")
			return
		}

		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UsernameKey, claims.Username)

		c.Next()
	}
}

// Authenticate validates the token carried by r. The websocket handshake
// uses it directly since it is not routed through gin.
func (m *AuthMiddleware) Authenticate(r *http.Request) (*jwt.Claims, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, jwt.ErrInvalidToken
	}
	return m.validator.ValidateToken(token)
}

// TokenFromRequest reads a bearer token from the Authorization header,
// falling back to the token query parameter (browsers cannot set headers
// on websocket handshakes).
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get(AuthHeaderKey); h != "" {
		if strings.HasPrefix(h, BearerPrefix) {
			return strings.TrimSpace(strings.TrimPrefix(h, BearerPrefix))
		}
		return ""
	}
	return r.URL.Query().Get(TokenQueryKey)
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetUsername extracts username from Gin context.
func GetUsername(c *gin.Context) string {
	return c.GetString(UsernameKey)
}
