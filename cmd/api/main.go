package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/mergington-api/internal/config"
	"github.com/noah-isme/mergington-api/internal/database"
	"github.com/noah-isme/mergington-api/internal/handler"
	"github.com/noah-isme/mergington-api/internal/middleware"
	"github.com/noah-isme/mergington-api/internal/observability"
	"github.com/noah-isme/mergington-api/internal/repository"
	"github.com/noah-isme/mergington-api/internal/router"
	"github.com/noah-isme/mergington-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()
	if cfg.AppEnv == "development" {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, activity directory cache disabled")
		} else {
			defer redisClient.Close()
		}
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, roster events stay local")
		} else {
			defer natsConn.Close()
		}
	}

	observability.RegisterMetrics()
	validate := validator.New(validator.WithRequiredStructEnabled())

	rosterRepo := repository.NewRosterRepository(db)

	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := service.NewSeedService(rosterRepo, validate, cfg.SeedFile, logger).Seed(seedCtx); err != nil {
		cancelSeed()
		log.Fatalf("failed to seed activities: %v", err)
	}
	cancelSeed()

	rosterEvents := service.NewRosterEvents(natsConn, cfg.EventsSubject, logger)
	enrollmentService := service.NewEnrollmentService(rosterRepo, redisClient, cfg.ActivitiesCacheTTL, rosterEvents, validate, logger)

	activityHandler := handler.NewActivityHandler(enrollmentService, logger)
	studentHandler := handler.NewStudentHandler(enrollmentService, logger)
	rosterStreamHandler := handler.NewRosterStreamHandler(rosterEvents, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: logger})
	router.Register(app, cfg, router.Dependencies{
		ActivityHandler:     activityHandler,
		StudentHandler:      studentHandler,
		RosterStreamHandler: rosterStreamHandler,
		DB:                  db,
		Redis:               redisClient,
	})

	eventsCtx, stopEvents := context.WithCancel(context.Background())
	defer stopEvents()
	rosterEvents.Start(eventsCtx)

	go func() {
		logger.Info().Str("address", cfg.HTTPAddress()).Str("driver", cfg.DatabaseDriver).Msg("starting server")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, logger)
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
