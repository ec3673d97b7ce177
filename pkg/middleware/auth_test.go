package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/jwt"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/response"
)

func newRouter(t *testing.T) (*gin.Engine, *jwt.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m, err := jwt.NewManager("secret", "chat-sync", time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", NewAuthMiddleware(m).RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c)+"/"+GetUsername(c))
	})
	return r, m
}

func TestRequireAuthAcceptsBearer(t *testing.T) {
	r, m := newRouter(t)
	tok, _, err := m.GenerateToken("u1", "alice")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(AuthHeaderKey, BearerPrefix+tok)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1/alice", w.Body.String())
}

func TestRequireAuthAcceptsQueryToken(t *testing.T) {
	r, m := newRouter(t)
	tok, _, _ := m.GenerateToken("u2", "bob")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token="+tok, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuthRejects(t *testing.T) {
	r, _ := newRouter(t)

	for name, header := range map[string]string{
		"missing":   "",
		"malformed": "Token abc",
		"invalid":   BearerPrefix + "abc",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set(AuthHeaderKey, header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			var body response.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, response.CodeUnauthorized, body.Code)
		})
	}
}
