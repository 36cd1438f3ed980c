package reconcile

import (
	"net/http"

	"courtbook/internal/pkg/response"
	"courtbook/internal/pkg/validator"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes expects rg to carry the recovery API key check.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/recovery", h.Recover)
}

func (h *Handler) Recover(c *gin.Context) {
	var req RecoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid recovery request", errs)
		return
	}

	res, err := h.service.Recover(c.Request.Context(), req)
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}
