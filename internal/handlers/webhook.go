// Package handlers exposes the HTTP surface: the Telegram webhook and health.
package handlers

import (
	"context"
	"crypto/subtle"
	"log"
	"time"

	"aria/internal/models"
	"aria/internal/transport"

	"github.com/gofiber/fiber/v2"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateHandler is the turn pipeline behind the webhook.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update models.InboundUpdate)
}

// WebhookHandler receives Telegram updates and hands them to the orchestrator.
type WebhookHandler struct {
	orchestrator UpdateHandler
	secret       string
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(orchestrator UpdateHandler, secret string) *WebhookHandler {
	return &WebhookHandler{orchestrator: orchestrator, secret: secret}
}

// HandleTelegram validates the webhook secret, acknowledges immediately, and
// processes the update off the request goroutine. Telegram redelivers on
// non-200, so parse failures are still acknowledged.
func (h *WebhookHandler) HandleTelegram(c *fiber.Ctx) error {
	if h.secret != "" {
		provided := c.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
	}

	var update transport.TelegramUpdate
	if err := c.BodyParser(&update); err != nil {
		log.Printf("⚠️  [WEBHOOK] Unparseable update: %v", err)
		return c.SendStatus(fiber.StatusOK)
	}

	inbound, ok := update.ToInbound()
	if !ok {
		return c.SendStatus(fiber.StatusOK)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		h.orchestrator.HandleUpdate(ctx, inbound)
	}()

	return c.SendStatus(fiber.StatusOK)
}
