package response

import (
	"net/http"

	"courtbook/internal/domain"

	"github.com/gin-gonic/gin"
)

func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, gin.H{
		"success": true,
		"data":    data,
	})
}

func Error(c *gin.Context, statusCode int, code string, message string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func ErrorWithDetails(c *gin.Context, statusCode int, code string, message string, details any) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// Failure writes err using its domain kind for the status code. The
// retryable flag tells clients whether offering a retry makes sense.
func Failure(c *gin.Context, err error) {
	status, code := StatusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = "Internal server error"
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":      code,
			"message":   message,
			"retryable": domain.Retryable(err),
		},
	})
}

func StatusFor(err error) (int, string) {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case domain.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case domain.KindConflict:
		return http.StatusConflict, "CONFLICT"
	case domain.KindContention:
		return http.StatusConflict, "CONTENTION"
	case domain.KindTransient:
		return http.StatusServiceUnavailable, "TEMPORARILY_UNAVAILABLE"
	case domain.KindInconsistent:
		return http.StatusUnprocessableEntity, "INCONSISTENT_STATE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
