package booking

import (
	"errors"
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

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/bookings", h.CreateBooking)
	rg.GET("/bookings/:id", h.GetBooking)
	rg.POST("/bookings/:id/heartbeat", h.Heartbeat)
	rg.POST("/bookings/:id/cancel", h.Cancel)
	rg.POST("/bookings/:id/payment", h.RequestPayment)
	rg.GET("/venues/:venueId/courts/:courtId/availability", h.Availability)
}

func (h *Handler) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid booking request", errs)
		return
	}

	b, err := h.service.CreateHold(c.Request.Context(), req)
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"booking": b})
}

func (h *Handler) GetBooking(c *gin.Context) {
	b, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": b})
}

func (h *Handler) Heartbeat(c *gin.Context) {
	b, err := h.service.Heartbeat(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotHolding) && b != nil {
			response.ErrorWithDetails(c, http.StatusConflict, "BOOKING_NOT_HOLDING", err.Error(), gin.H{
				"status":         b.Status,
				"payment_status": b.PaymentStatus,
			})
			return
		}
		response.Failure(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"last_active": b.LastActive, "status": b.Status})
}

func (h *Handler) Cancel(c *gin.Context) {
	b, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": b})
}

func (h *Handler) RequestPayment(c *gin.Context) {
	var req PaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
			return
		}
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid payment request", errs)
		return
	}

	id := c.Param("id")
	p, err := h.service.RequestPayment(c.Request.Context(), id, req)
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.Success(c, http.StatusOK, PaymentResponse{
		BookingID:    id,
		Reference:    p.Reference,
		Status:       string(p.Status),
		Amount:       p.Amount,
		Currency:     p.Currency,
		AuthorizeURI: p.AuthorizeURI,
	})
}

func (h *Handler) Availability(c *gin.Context) {
	var q AvailabilityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "date query parameter is required")
		return
	}
	if errs := validator.Validate(q); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid date", errs)
		return
	}

	slots, err := h.service.Availability(c.Request.Context(), c.Param("venueId"), c.Param("courtId"), q.Date)
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"venue_id": c.Param("venueId"),
		"court_id": c.Param("courtId"),
		"date":     q.Date,
		"slots":    slots,
	})
}
