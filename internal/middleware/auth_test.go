package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"voxchat-go/internal/model"
	"voxchat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticUsers map[string]*model.User

func (s staticUsers) GetProfile(username string) (*model.User, error) {
	if u, ok := s[username]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}

type revokedSet map[string]bool

func (r revokedSet) IsRevoked(ctx context.Context, tok string) (bool, error) {
	return r[tok], nil
}

func newAuthRouter(m *token.JWTManager, revoked revokedSet) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	users := staticUsers{"ana": {ID: 9, Username: "ana"}}
	r.GET("/me", AuthMiddleware(m, users, revoked), func(c *gin.Context) {
		c.String(http.StatusOK, "%d", c.GetUint(ContextUserID))
	})
	return r
}

func get(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	m := token.NewJWTManager("secret", 1, 7)
	revoked := revokedSet{}
	r := newAuthRouter(m, revoked)

	access, err := m.GenerateToken(9, "ana")
	require.NoError(t, err)
	refresh, err := m.GenerateRefreshToken(9, "ana")
	require.NoError(t, err)
	ghost, err := m.GenerateToken(10, "ghost")
	require.NoError(t, err)

	w := get(r, "Bearer "+access)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "9", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, access).Code, "missing Bearer prefix")
	assert.Equal(t, http.StatusUnauthorized, get(r, "Bearer "+refresh).Code, "refresh tokens are not access tokens")
	assert.Equal(t, http.StatusUnauthorized, get(r, "Bearer "+ghost).Code)

	revoked[access] = true
	w = get(r, "Bearer "+access)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `"code":401`))
}
