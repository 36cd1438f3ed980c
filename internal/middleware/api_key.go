package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"courtbook/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const APIKeyHeader = "X-API-Key"

// APIKeyAuth protects operator endpoints with a static key. expected may be
// the key itself or its bcrypt hash.
func APIKeyAuth(expected string, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	expected = strings.TrimSpace(expected)
	hashed := isBcryptHash(expected)

	return func(c *gin.Context) {
		if expected == "" {
			logAuthFailure(logger, c, http.StatusInternalServerError, "key_not_configured")
			response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "API key is not configured")
			c.Abort()
			return
		}

		key := strings.TrimSpace(c.GetHeader(APIKeyHeader))
		if key == "" {
			logAuthFailure(logger, c, http.StatusUnauthorized, "missing_key")
			response.Error(c, http.StatusUnauthorized, "AUTH_MISSING", APIKeyHeader+" header is required")
			c.Abort()
			return
		}

		if !keyMatches(expected, key, hashed) {
			logAuthFailure(logger, c, http.StatusForbidden, "invalid_key")
			response.Error(c, http.StatusForbidden, "AUTH_INVALID", "Invalid API key")
			c.Abort()
			return
		}

		c.Next()
	}
}

func keyMatches(expected, got string, hashed bool) bool {
	if hashed {
		return bcrypt.CompareHashAndPassword([]byte(expected), []byte(got)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

func isBcryptHash(s string) bool {
	if len(s) != 60 {
		return false
	}
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

func logAuthFailure(logger *zap.Logger, c *gin.Context, status int, reason string) {
	logger.Warn("api key auth failed",
		zap.Int("status", status),
		zap.String("request_id", requestID(c)),
		zap.String("client_ip", c.ClientIP()),
		zap.String("reason", reason))
}
