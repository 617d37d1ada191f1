package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func sign(t *testing.T, secret, subject, role string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	m := NewAuthMiddleware(testSecret)

	router := gin.New()
	api := router.Group("/api", m.RequireAuth())
	ok := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetString("user_id"), "role": c.GetString("role")})
	}
	api.GET("/whoami", ok)
	api.POST("/points/award", m.RequireRole(RoleAdmin, RoleService), ok)
	api.GET("/users/:userId/points", m.RequireSelfOrPrivileged("userId"), ok)
	return router
}

func request(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	router := newRouter()
	hour := time.Now().Add(time.Hour)

	assert.Equal(t, http.StatusUnauthorized, request(router, http.MethodGet, "/api/whoami", "").Code)
	assert.Equal(t, http.StatusUnauthorized, request(router, http.MethodGet, "/api/whoami", "garbage").Code)
	assert.Equal(t, http.StatusUnauthorized, request(router, http.MethodGet, "/api/whoami", sign(t, "other-secret", "user-1", "", hour)).Code)
	assert.Equal(t, http.StatusUnauthorized, request(router, http.MethodGet, "/api/whoami", sign(t, testSecret, "user-1", "", time.Now().Add(-time.Minute))).Code)
	assert.Equal(t, http.StatusUnauthorized, request(router, http.MethodGet, "/api/whoami", sign(t, testSecret, "", "", hour)).Code)

	w := request(router, http.MethodGet, "/api/whoami", sign(t, testSecret, "user-1", "", hour))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user": "user-1", "role": "user"}`, w.Body.String())

	// query token fallback for websocket clients
	w = request(router, http.MethodGet, "/api/whoami?token="+sign(t, testSecret, "user-2", RoleAdmin, hour), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user": "user-2", "role": "admin"}`, w.Body.String())
}

func TestRequireRole(t *testing.T) {
	router := newRouter()
	hour := time.Now().Add(time.Hour)

	assert.Equal(t, http.StatusForbidden, request(router, http.MethodPost, "/api/points/award", sign(t, testSecret, "user-1", RoleUser, hour)).Code)
	assert.Equal(t, http.StatusOK, request(router, http.MethodPost, "/api/points/award", sign(t, testSecret, "svc-listings", RoleService, hour)).Code)
	assert.Equal(t, http.StatusOK, request(router, http.MethodPost, "/api/points/award", sign(t, testSecret, "ops", RoleAdmin, hour)).Code)
}

func TestRequireSelfOrPrivileged(t *testing.T) {
	router := newRouter()
	hour := time.Now().Add(time.Hour)

	assert.Equal(t, http.StatusOK, request(router, http.MethodGet, "/api/users/user-1/points", sign(t, testSecret, "user-1", "", hour)).Code)
	assert.Equal(t, http.StatusForbidden, request(router, http.MethodGet, "/api/users/user-1/points", sign(t, testSecret, "user-2", "", hour)).Code)
	assert.Equal(t, http.StatusOK, request(router, http.MethodGet, "/api/users/user-1/points", sign(t, testSecret, "ops", RoleAdmin, hour)).Code)
}
