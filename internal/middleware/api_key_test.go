package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func apiKeyRouter(expected string) *gin.Engine {
	router := gin.New()
	router.Use(APIKeyAuth(expected, nil))
	router.POST("/recovery", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func callWithKey(router http.Handler, key string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/recovery", nil)
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestAPIKeyAuth_PlainKey(t *testing.T) {
	router := apiKeyRouter("s3cret")

	assert.Equal(t, http.StatusOK, callWithKey(router, "s3cret").Code)
	assert.Equal(t, http.StatusForbidden, callWithKey(router, "nope").Code)

	w := callWithKey(router, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "AUTH_MISSING")
}

func TestAPIKeyAuth_BcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	router := apiKeyRouter(string(hash))

	assert.Equal(t, http.StatusOK, callWithKey(router, "s3cret").Code)
	assert.Equal(t, http.StatusForbidden, callWithKey(router, string(hash)).Code)
}

func TestAPIKeyAuth_NotConfigured(t *testing.T) {
	w := callWithKey(apiKeyRouter(""), "anything")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
