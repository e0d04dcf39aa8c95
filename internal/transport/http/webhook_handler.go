package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroom/backend/internal/middleware"
	"mailroom/backend/internal/service"
)

// WebhookHandler 接收支付网关回调
type WebhookHandler struct {
	reconciler      *service.ReconcilerService
	signatureHeader string
	logger          *zap.Logger
}

// NewWebhookHandler 创建回调处理器
func NewWebhookHandler(reconciler *service.ReconcilerService, signatureHeader string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		reconciler:      reconciler,
		signatureHeader: signatureHeader,
		logger:          logger,
	}
}

// receive 处理支付事件。
//
// 请求体可读且为合法 JSON 时通常返回 200 {"received": true}，
// 签名、元数据或开通失败只记录日志，避免网关反复重试。
// 去重存储故障时返回 503，让网关稍后重新投递。
func (h *WebhookHandler) receive(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		if middleware.IsBodyTooLarge(err) {
			h.logger.Warn("webhook body too large", zap.Error(err))
		} else {
			h.logger.Error("failed to read webhook body", zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read body"})
		return
	}

	result, err := h.reconciler.HandleWebhook(c.Request.Context(), c.GetHeader(h.signatureHeader), body)
	if errors.Is(err, service.ErrDedupUnavailable) {
		h.logger.Warn("webhook deferred, dedup store unavailable",
			zap.String("event_id", result.EventID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	}
	if err != nil {
		h.logger.Warn("rejecting unparseable webhook", zap.Error(err), zap.Int("bytes", len(body)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid payload"})
		return
	}

	h.logger.Debug("webhook acknowledged",
		zap.String("event_id", result.EventID),
		zap.String("outcome", string(result.Outcome)),
	)
	c.JSON(http.StatusOK, gin.H{"received": true})
}
