package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"storefront/internal/config"
	"storefront/internal/guest"
	"storefront/internal/http/handlers"
	applog "storefront/internal/log"
	"storefront/internal/remote"
	"storefront/internal/repos"
	"storefront/internal/shopper"
	"storefront/internal/telemetry"
	"storefront/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	// Optional file logging
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("[warn] could not open log file %s: %v", cfg.LogFile, err)
		} else {
			defer f.Close()
			log.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	}

	// Sessions always live in sqlite; guest lists go where GUEST_STORE says.
	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	var store guest.Store
	switch cfg.GuestStore {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		store = repos.NewRedisGuestRepo(rdb)
	case "memory":
		store = guest.NewMemory()
	default:
		store = repos.NewGuestRepo(db)
	}
	log.Printf("[guest] store=%s", cfg.GuestStore)

	client, err := transport.NewClient(cfg.APIBaseURL, transport.WithTimeout(cfg.APITimeout))
	if err != nil {
		log.Fatal(err)
	}

	var emitter telemetry.Emitter = telemetry.Log{}
	if cfg.Tracing {
		emitter = telemetry.Multi{telemetry.Log{}, telemetry.NewOTel(otel.Tracer("storefront"))}
	}

	sessions := shopper.NewManager(shopper.Options{
		Dial:      func(token string) *remote.API { return remote.New(client.WithToken(token)) },
		Guest:     store,
		Sessions:  repos.NewSessionRepo(db),
		MockOnly:  cfg.MockOnly,
		Telemetry: emitter,
		IdleAfter: cfg.SessionIdle,
	})
	defer sessions.Close()

	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	// Global body size guard
	app.Server().MaxRequestBodySize = 1 << 20 // 1 MiB

	// ---------- Middlewares ----------
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(helmet.New())
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			// event streams stay open; one request per connection
			return c.Path() == "/api/events" || c.Path() == "/healthz"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.api.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded, retry soon"})
		},
	}))

	// ---------- App handlers ----------
	deps := handlers.NewDeps(sessions)
	deps.LoginLimit = limiter.New(limiter.Config{
		Max:        5,
		Expiration: 10 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() + "|login"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.login.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many attempts. Please try again later."})
		},
	})
	deps.Mount(app)

	// Health & 404
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true, "sessions": sessions.Len()})
	})
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sessions.Run(ctx, time.Minute)
	go func() {
		<-ctx.Done()
		log.Printf("[shutdown] draining")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("[shutdown] %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Printf("[listen] %v", err)
	}
}
