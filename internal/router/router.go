package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/noah-isme/mergington-api/internal/config"
	"github.com/noah-isme/mergington-api/internal/handler"
	"github.com/noah-isme/mergington-api/internal/middleware"
	"github.com/noah-isme/mergington-api/internal/observability"
)

const staticIndex = "/static/index.html"

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ActivityHandler     *handler.ActivityHandler
	StudentHandler      *handler.StudentHandler
	RosterStreamHandler *handler.RosterStreamHandler
	DB                  *gorm.DB
	Redis               *redis.Client
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.DB, deps.Redis))

	app.Get("/metrics", observability.MetricsHandler())

	activities := app.Group("/activities")
	if deps.RosterStreamHandler != nil {
		deps.RosterStreamHandler.Register(activities)
	}
	if deps.ActivityHandler != nil {
		writeLimiter := middleware.RateLimit("roster-write", cfg.SignupRateLimit, cfg.SignupRateWindow)
		deps.ActivityHandler.Register(activities, writeLimiter)
	}

	if deps.StudentHandler != nil {
		deps.StudentHandler.Register(app.Group("/students"))
	}

	if cfg.StaticDir != "" {
		app.Static("/static", cfg.StaticDir)
		app.Get("/", func(c *fiber.Ctx) error {
			return c.Redirect(staticIndex, fiber.StatusTemporaryRedirect)
		})
	}
}
