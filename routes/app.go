package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

type AppConfig struct {
	BodyLimitMB int
	CORSOrigins string
	// Quiet drops the request logger.
	Quiet bool
}

// NewApp builds the fiber app with the shared middleware stack.
func NewApp(cfg AppConfig) *fiber.App {
	if cfg.BodyLimitMB <= 0 {
		cfg.BodyLimitMB = 50
	}
	if cfg.CORSOrigins == "" {
		cfg.CORSOrigins = "*"
	}

	app := fiber.New(fiber.Config{
		AppName:   "kvk-backend",
		BodyLimit: cfg.BodyLimitMB << 20,
	})

	app.Use(recover.New())
	if !cfg.Quiet {
		app.Use(logger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, apikey, x-client-info",
	}))

	return app
}
