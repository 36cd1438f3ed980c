package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"courtbook/internal/pkg/clock"
	"courtbook/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func protectedRouter(t *testing.T, jwtService *jwt.Service, extra ...gin.HandlerFunc) *gin.Engine {
	t.Helper()
	router := gin.New()
	router.Use(JWTAuth(jwtService))
	router.Use(extra...)
	router.GET("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": c.GetString(ContextUserID),
			"role":    c.GetString(ContextRole),
		})
	})
	return router
}

func callProtected(router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestJWTAuth_ValidToken(t *testing.T) {
	jwtService := jwt.New("test-secret-123", time.Hour)
	token, err := jwtService.GenerateToken("ops-42", jwt.RoleAdmin)
	require.NoError(t, err)

	w := callProtected(protectedRouter(t, jwtService), "Bearer "+token)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ops-42")
	assert.Contains(t, w.Body.String(), "admin")
}

func TestJWTAuth_Rejections(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	jwtService := jwt.New("secret", time.Hour).WithClock(clk)

	foreign, err := jwt.New("other-secret", time.Hour).GenerateToken("ops", jwt.RoleAdmin)
	require.NoError(t, err)
	stale, err := jwtService.GenerateToken("ops", jwt.RoleAdmin)
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)

	cases := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", "AUTH_HEADER_MISSING"},
		{"basic scheme", "Basic dGVzdA==", "INVALID_AUTH_FORMAT"},
		{"garbage token", "Bearer invalid-jwt-here", "INVALID_TOKEN"},
		{"signed with another secret", "Bearer " + foreign, "INVALID_TOKEN"},
		{"expired", "Bearer " + stale, "TOKEN_EXPIRED"},
	}
	router := protectedRouter(t, jwtService)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := callProtected(router, tc.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tc.code)
		})
	}
}

func TestAdminOnly(t *testing.T) {
	jwtService := jwt.New("secret", time.Hour)
	router := protectedRouter(t, jwtService, AdminOnly())

	customer, _ := jwtService.GenerateToken("u1", "customer")
	admin, _ := jwtService.GenerateToken("ops", jwt.RoleAdmin)

	assert.Equal(t, http.StatusForbidden, callProtected(router, "Bearer "+customer).Code)
	assert.Equal(t, http.StatusOK, callProtected(router, "Bearer "+admin).Code)
}
