package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/phonginreallife/inres-oncall/internal/observability"
)

// WebhookHandler receives Telegram updates pushed to POST /telegram/webhook/:secret.
type WebhookHandler struct {
	secret string
	bot    *BotHandler
	logger *zap.Logger
}

func NewWebhookHandler(secret string, bot *BotHandler, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, bot: bot, logger: observability.OrNop(logger)}
}

// Receive acknowledges the update right away and handles it in the background,
// so Telegram does not redeliver while a store call is slow.
func (h *WebhookHandler) Receive(c *gin.Context) {
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(c.Param("secret")), []byte(h.secret)) != 1 {
		c.Status(http.StatusNotFound)
		return
	}

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.logger.Warn("invalid webhook payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update"})
		return
	}

	h.bot.Dispatch(c.Request.Context(), update)
	c.Status(http.StatusOK)
}
