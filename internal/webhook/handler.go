package webhook

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	headerSignature = "X-Webhook-Signature"

	maxDeliveryBytes = 1 << 20
)

// Handler exposes the ingestion pipeline over HTTP. Providers retry on
// non-2xx, so every handled delivery answers 200 even when rejected; only a
// transient ledger failure returns 500 to request redelivery.
type Handler struct {
	pipeline *Pipeline
	logger   *zap.Logger
}

// NewHandler wires a Handler.
func NewHandler(pipeline *Pipeline, logger *zap.Logger) *Handler {
	return &Handler{pipeline: pipeline, logger: logger}
}

// Register mounts the provider endpoints. Both rails share one pipeline; the
// event kind inside the body selects the processing path.
func (handler *Handler) Register(routes gin.IRoutes) {
	routes.POST("/webhooks/bank", handler.receive)
	routes.POST("/webhooks/exchange", handler.receive)
}

func (handler *Handler) receive(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxDeliveryBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"status": "rejected", "reason": "unreadable body"})
		return
	}
	result, err := handler.pipeline.Ingest(ctx.Request.Context(), body, ctx.GetHeader(headerSignature))
	if err != nil {
		if handler.logger != nil {
			handler.logger.Error("webhook ingestion failed", zap.Error(err))
		}
		ctx.JSON(http.StatusInternalServerError, gin.H{"status": "retry"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": string(result.State), "reason": result.Reason})
}
