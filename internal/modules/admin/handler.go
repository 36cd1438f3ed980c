package admin

import (
	"net/http"
	"strconv"

	"courtbook/internal/middleware"
	"courtbook/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes expects admin to carry JWT authentication and the admin
// role check.
func (h *Handler) RegisterRoutes(admin *gin.RouterGroup) {
	admin.GET("/stats", h.GetStats)

	admin.GET("/bookings/attention", h.ListAttention)
	admin.POST("/bookings/:id/attention/clear", h.ClearAttention)
	admin.GET("/bookings/:id/ledger", h.BookingLedger)

	admin.GET("/webhooks/:id", h.GetEvent)
	admin.POST("/webhooks/:id/reprocess", h.ReprocessEvent)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.service.GetStatistics(c.Request.Context())
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

func (h *Handler) ListAttention(c *gin.Context) {
	limit := 20
	if s := c.Query("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	list, limit, err := h.service.ListAttention(c.Request.Context(), limit)
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.Success(c, http.StatusOK, AttentionListResponse{Bookings: list, Limit: limit})
}

func (h *Handler) ClearAttention(c *gin.Context) {
	b, err := h.service.ClearAttention(c.Request.Context(), c.Param("id"), c.GetString(middleware.ContextUserID))
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": b})
}

func (h *Handler) BookingLedger(c *gin.Context) {
	out, err := h.service.BookingLedger(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}

func (h *Handler) GetEvent(c *gin.Context) {
	out, err := h.service.GetEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}

func (h *Handler) ReprocessEvent(c *gin.Context) {
	res, err := h.service.ReprocessEvent(c.Request.Context(), c.Param("id"), c.GetString(middleware.ContextUserID))
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}
