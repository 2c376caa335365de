package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aria/internal/config"
	"aria/internal/database"
	"aria/internal/handlers"
	"aria/internal/llm"
	"aria/internal/logging"
	"aria/internal/middleware"
	"aria/internal/resilience"
	"aria/internal/services"
	"aria/internal/transport"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	}

	logging.Init()
	cfg := config.Load()

	if cfg.TelegramBotToken == "" {
		log.Println("⚠️  TELEGRAM_BOT_TOKEN is not set; outbound delivery will fail")
	}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("❌ Invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Printf("⚠️  Redis unreachable, dedup falls back to process-local: %v", err)
		} else {
			log.Println("✅ Redis connected")
		}
		cancel()
	} else {
		log.Println("⚠️  REDIS_URL not set, dedup is process-local only")
	}

	metrics := services.InitMetrics()

	// Services
	dedup := services.NewDedupService(rdb, cfg.DedupCapacity, cfg.DedupWindow)
	state := services.NewStateStore(db, cfg.SessionIdleTimeout)
	profiles := services.NewProfileStore(db)
	tasks := services.NewTaskStore(db)
	calendar := services.NewCalendarStore(db)
	finance := services.NewFinanceStore(db)
	reviews := services.NewReviewStore(db)
	memories := services.NewMemoryStore(db)
	invocations := services.NewInvocationStore(db)

	builder := services.NewContextBuilder(profiles, tasks, state, memories, calendar, finance,
		cfg.SourceTimeout, cfg.ContextBudgetBytes)
	router := services.NewFlowRouter(cfg.FlowTTL)
	dispatcher := services.NewDispatcher(tasks, profiles, calendar, finance, reviews,
		memories, invocations, builder)

	modelClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	wrapper := resilience.NewWrapper(resilience.WrapperConfig{
		Name:      "llm",
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.RetryBaseDelay,
		Timeout:   cfg.TurnDeadline,
		Threshold: cfg.BreakerThreshold,
		Cooldown:  cfg.BreakerCooldown,
	})
	metrics.ObserveBreaker(wrapper.Breaker())
	limiter := resilience.NewUserRateLimiter(cfg.ModelCallsPerHour)

	sender := transport.NewTelegramSender(cfg.TelegramBotToken)
	writer := services.NewMemoryWriter(state, memories, cfg.SalienceThreshold)
	writer.Start()

	orchestrator := services.NewOrchestrator(dedup, state, profiles, router, builder,
		modelClient, wrapper, limiter, dispatcher, writer, sender, cfg.TurnDeadline)

	scheduler := services.NewSchedulerService(state, memories, sender)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("❌ Failed to start scheduler: %v", err)
	}

	// HTTP surface
	app := fiber.New(fiber.Config{
		AppName:      "Aria",
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New())

	prometheus := fiberprometheus.New("aria")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	webhook := handlers.NewWebhookHandler(orchestrator, cfg.TelegramWebhookSecret)
	health := handlers.NewHealthHandler(db.DB, rdb, wrapper.Breaker())

	app.Get("/health", health.Handle)
	app.Post("/webhook/telegram", middleware.WebhookRateLimit(), webhook.HandleTelegram)

	// Graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Println("📦 Shutting down...")
		scheduler.Stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("⚠️  Server shutdown error: %v", err)
		}
		writer.Stop()
		if rdb != nil {
			rdb.Close()
		}
	}()

	log.Printf("🚀 Aria listening on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	log.Printf("🚫 [HTTP] %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(code).JSON(fiber.Map{"error": "internal error"})
}
