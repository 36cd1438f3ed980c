package live

import (
	"context"
	"net/http"

	"courtbook/internal/domain"
	"courtbook/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type bookingReader interface {
	Get(ctx context.Context, id string) (*domain.Booking, error)
}

type Handler struct {
	hub      *Hub
	bookings bookingReader
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler accepts any origin when origins is empty.
func NewHandler(hub *Hub, bookings bookingReader, origins []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Handler{
		hub:      hub,
		bookings: bookings,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/bookings/:id/live", h.Connect)
}

// Connect upgrades to a websocket that carries heartbeats from the payment
// page and status changes back to it.
//
// Endpoint: GET /api/v1/bookings/:id/live
func (h *Handler) Connect(c *gin.Context) {
	b, err := h.bookings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Failure(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("booking_id", b.ID), zap.Error(err))
		return
	}
	h.logger.Debug("live connection opened", zap.String("booking_id", b.ID))
	h.hub.ServeWS(conn, b.ID, statusEvent(b))
}
