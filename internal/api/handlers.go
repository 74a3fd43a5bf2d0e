// Package api exposes the bot's HTTP surface: health, the Telegram webhook and a
// read-only view of the interaction log.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"oralgrader/internal/model"
	"oralgrader/internal/telegram"
	"oralgrader/internal/utils"
)

const (
	secretHeader    = "X-Telegram-Bot-Api-Secret-Token"
	defaultPageSize = 50
	maxPageSize     = 500
	serviceName     = "oralgrader"
)

type EventDispatcher interface {
	Dispatch(ctx context.Context, ev model.InboundEvent) error
}

type InteractionReader interface {
	Records(ctx context.Context) ([]model.InteractionRecord, error)
}

// Handler serves the routes registered by RegisterRoutes.
type Handler struct {
	Dispatcher    EventDispatcher
	Interactions  InteractionReader
	WebhookSecret string
	RubricVersion string
	STTProvider   string
	Log           logrus.FieldLogger
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	if h.Log == nil {
		h.Log = logrus.StandardLogger()
	}
	h.Log = h.Log.WithField("component", "api")

	r.GET("/health", h.healthCheck)

	if h.Dispatcher != nil {
		r.POST("/telegram/webhook", h.verifySecret, h.telegramWebhook)
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/interactions", h.listInteractions)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	utils.Success(c, gin.H{
		"status":         "ok",
		"service":        serviceName,
		"rubric_version": h.RubricVersion,
		"stt_provider":   h.STTProvider,
	})
}

func (h *Handler) verifySecret(c *gin.Context) {
	if h.WebhookSecret == "" {
		c.Next()
		return
	}
	got := c.GetHeader(secretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.WebhookSecret)) != 1 {
		h.Log.WithField("remote", c.ClientIP()).Warn("webhook call with a bad secret token")
		utils.Abort(c, http.StatusUnauthorized, "invalid secret token")
		return
	}
	c.Next()
}

// telegramWebhook answers 200 for every well-authenticated call, including
// updates it cannot use, so Telegram does not redeliver them.
func (h *Handler) telegramWebhook(c *gin.Context) {
	var update telegram.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.Log.WithError(err).Warn("undecodable webhook update")
		utils.Success(c, gin.H{"handled": false})
		return
	}

	ev, ok := telegram.EventFromUpdate(update)
	if !ok {
		utils.Success(c, gin.H{"handled": false})
		return
	}
	if err := h.Dispatcher.Dispatch(c.Request.Context(), ev); err != nil {
		h.Log.WithError(err).WithField("update_id", update.UpdateID).Error("failed to dispatch update")
		utils.Success(c, gin.H{"handled": false})
		return
	}
	utils.Success(c, gin.H{"handled": true, "kind": ev.Kind()})
}

// listInteractions returns the log newest first.
func (h *Handler) listInteractions(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit < 1 {
		utils.Error(c, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		utils.Error(c, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	records, err := h.Interactions.Records(c.Request.Context())
	if err != nil {
		h.Log.WithError(err).Error("failed to read interaction log")
		utils.Error(c, http.StatusInternalServerError, "failed to read interaction log")
		return
	}

	total := len(records)
	items := make([]model.InteractionRecord, 0, limit)
	for i := total - 1 - offset; i >= 0 && len(items) < limit; i-- {
		items = append(items, records[i])
	}

	utils.Success(c, gin.H{
		"total":  total,
		"limit":  limit,
		"offset": offset,
		"items":  items,
	})
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
