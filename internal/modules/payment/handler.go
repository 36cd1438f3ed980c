package payment

import (
	"errors"
	"io"
	"net/http"

	"courtbook/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

type Handler struct {
	verifier  *Verifier
	processor *Processor
	logger    *zap.Logger
}

func NewHandler(verifier *Verifier, processor *Processor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{verifier: verifier, processor: processor, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/payments", h.Receive)
}

// Receive verifies, parses and processes one gateway event. Anything other
// than a 2xx makes the gateway redeliver.
func (h *Handler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_BODY", "Failed to read request body")
		return
	}
	if len(body) > maxBodyBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Webhook body too large")
		return
	}

	if err := h.verifier.Verify(c.GetHeader(SignatureHeader), body); err != nil {
		if errors.Is(err, ErrMissingSecret) {
			h.logger.Error("webhook secret is not configured, rejecting event")
			response.Error(c, http.StatusInternalServerError, "WEBHOOK_NOT_CONFIGURED", "Webhook secret is not configured")
			return
		}
		h.logger.Warn("webhook signature rejected", zap.String("client_ip", c.ClientIP()), zap.Error(err))
		response.Error(c, http.StatusBadRequest, "INVALID_SIGNATURE", "Invalid webhook signature")
		return
	}

	ev, err := ParseEvent(body)
	if err != nil {
		h.logger.Warn("webhook payload rejected", zap.Error(err))
		response.Error(c, http.StatusBadRequest, "INVALID_EVENT", err.Error())
		return
	}

	res, err := h.processor.Handle(c.Request.Context(), ev)
	if err != nil {
		response.Failure(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}
