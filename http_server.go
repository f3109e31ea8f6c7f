package auth

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewApp builds the fiber application serving the auth routes, a health
// probe and the Prometheus scrape endpoint
func NewApp(controller *AuthController, logger Logger) *fiber.App {
	logger = normalizeLogger(logger)

	app := fiber.New(fiber.Config{
		AppName:               "tenant-auth",
		ErrorHandler:          NewErrorHandler(logger),
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestid.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	controller.Register(app)

	return app
}
