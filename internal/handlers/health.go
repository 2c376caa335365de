package handlers

import (
	"context"
	"database/sql"
	"time"

	"aria/internal/resilience"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports liveness of the engine's dependencies.
type HealthHandler struct {
	db      *sql.DB
	redis   *redis.Client // nil when Redis is not configured
	breaker *resilience.Breaker
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(db *sql.DB, rdb *redis.Client, breaker *resilience.Breaker) *HealthHandler {
	return &HealthHandler{db: db, redis: rdb, breaker: breaker}
}

// Handle returns component states. 200 as long as the database answers; the
// model breaker being open degrades service but the engine still replies.
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	dbState := "ok"
	if err := h.db.PingContext(ctx); err != nil {
		dbState = "down"
		status = fiber.StatusServiceUnavailable
	}

	redisState := "disabled"
	if h.redis != nil {
		redisState = "ok"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			redisState = "down"
		}
	}

	return c.Status(status).JSON(fiber.Map{
		"status":      dbState,
		"database":    dbState,
		"redis":       redisState,
		"llm_breaker": string(h.breaker.State()),
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}
