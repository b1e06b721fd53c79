// Package main provides the Zosmed API server: webhook intake and monitoring endpoints.
package main

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/zosmed/engine/pkg/web"
)

type API struct {
	logger   *slog.Logger
	handlers *web.APIHandlers
	metrics  http.Handler
}

func NewAPI(logger *slog.Logger, handlers *web.APIHandlers, metrics http.Handler) *API {
	return &API{
		logger:   logger,
		handlers: handlers,
		metrics:  metrics,
	}
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Zosmed API")
	})

	app.Get("/health", a.handlers.HealthCheck)

	if a.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(a.metrics))
	}

	w := app.Group("/webhooks")
	w.Get("/instagram", a.handlers.VerifyWebhook)
	w.Post("/instagram", a.handlers.ReceiveWebhook)

	app.Post("/automations/compile", a.handlers.CompileAutomation)

	i := app.Group("/integrations/:id")
	i.Get("/usage", a.handlers.GetIntegrationUsage)
	i.Get("/health", a.handlers.GetIntegrationHealth)
	i.Get("/timeline", a.handlers.GetIntegrationTimeline)
	i.Get("/activity", a.handlers.GetIntegrationActivity)

	return app
}

func (a *API) Start(app *fiber.App, port int) error {
	a.logger.Info("Starting API server", "port", port)

	return app.Listen(":" + strconv.Itoa(port))
}
