package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bilgisen/contentgen/internal/auth"
	"github.com/bilgisen/contentgen/internal/middleware"
)

// RouteConfig carries the settings the router needs beyond the handlers.
type RouteConfig struct {
	AdminAPIKey    string
	AllowedOrigins []string
}

// SetupRoutes configures all the routes for the application
func SetupRoutes(app *fiber.App, h *Handlers, authSvc *auth.Service, cfg RouteConfig) {
	// Middleware
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger())
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key",
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API group with versioning
	api := app.Group("/api/v1")

	api.Get("/health", h.HealthCheck)

	authGroup := api.Group("/auth")
	{
		authGroup.Post("/register", middleware.ValidateRequest[registerRequest](), h.Register)
		authGroup.Post("/login", middleware.ValidateRequest[loginRequest](), h.Login)
	}

	contentGroup := api.Group("/content", middleware.JWT(authSvc))
	{
		contentGroup.Post("/generate", middleware.ValidateRequest[generateRequest](), h.GenerateContent)
		contentGroup.Get("", middleware.ValidateQueryParams[listQuery](), h.ListContent)
		contentGroup.Get("/:id", h.GetContent)
		contentGroup.Patch("/:id", middleware.ValidateRequest[updateRequest](), h.UpdateContent)
		contentGroup.Delete("/:id", h.DeleteContent)
	}

	// Guest access to published items
	public := api.Group("/public/content")
	{
		public.Get("/:id", h.GetPublicContent)
		public.Post("/:id/comments", middleware.ValidateRequest[commentRequest](), h.AddComment)
	}

	admin := api.Group("/admin", middleware.AdminOnly(cfg.AdminAPIKey))
	{
		admin.Get("/queues", middleware.ValidateQueryParams[adminQuery](), h.QueueStats)
		admin.Delete("/dedupe", h.ClearDedupe)
	}

	// 404 Handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Endpoint not found",
		})
	})
}
