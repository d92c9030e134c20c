package app

import (
	"scorefetch/internal/handlers"
	"scorefetch/internal/sheetsync"
	u "scorefetch/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/redis/go-redis/v9"
)

// SetupApp creates and configures a new Fiber app instance
func SetupApp(cfg u.Config, redis *redis.Client, sheets *sheetsync.Queue) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "Internal Server Error"

			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				msg = e.Message
			}

			u.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

			return c.Status(code).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    code,
					"message": msg,
				},
			})
		},
	})

	RegisterMiddleware(app, cfg)
	RegisterRoutes(app, cfg, redis, sheets)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// RegisterRoutes mounts all route handlers to the app
func RegisterRoutes(app *fiber.App, cfg u.Config, redis *redis.Client, sheets *sheetsync.Queue) {
	v1 := app.Group("/v1")

	// One shared service so /v1/acquire and /v1/approve reuse the same
	// pipeline (and its S3 client and counters).
	svc := handlers.NewAcquireService(cfg, redis, sheets)

	v1.Post("/acquire", svc.HandleAcquire)
	v1.Post("/approve", svc.HandleApprove)
	v1.Get("/acquire/stats", svc.HandleStats)

	v1.Get("/monitor", monitor.New())
}
