package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/noah-isme/mergington-api/internal/config"
	"github.com/noah-isme/mergington-api/internal/utils"
)

const healthProbeTimeout = 2 * time.Second

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Service      string            `json:"service"`
	Environment  string            `json:"environment"`
	Dependencies map[string]string `json:"dependencies"`
}

// HealthCheck reports service health. The database is required; redis only degrades the status.
func HealthCheck(cfg config.Config, db *gorm.DB, redisClient *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(requestContext(c), healthProbeTimeout)
		defer cancel()

		payload := HealthResponse{
			Status:       "ok",
			Timestamp:    time.Now().UTC(),
			Service:      cfg.AppName,
			Environment:  cfg.AppEnv,
			Dependencies: map[string]string{},
		}

		if db != nil {
			payload.Dependencies["database"] = "ok"
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(ctx)
			}
			if err != nil {
				payload.Status = "unavailable"
				payload.Dependencies["database"] = "unreachable"
			}
		}

		if redisClient != nil {
			payload.Dependencies["redis"] = "ok"
			if err := redisClient.Ping(ctx).Err(); err != nil {
				payload.Dependencies["redis"] = "unreachable"
				if payload.Status == "ok" {
					payload.Status = "degraded"
				}
			}
		}

		if payload.Status == "unavailable" {
			return utils.SendErrorWithData(c, fiber.StatusServiceUnavailable, "service unavailable", payload)
		}
		return utils.SendSuccess(c, "service healthy", payload)
	}
}
