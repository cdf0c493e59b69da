package main

import (
	"context"
	"fmt"
	"log"

	"github.com/CostLensHQ/CostLens/internal/pkg/billing"
	"github.com/CostLensHQ/CostLens/internal/pkg/cache"
	"github.com/CostLensHQ/CostLens/internal/pkg/database"
	"github.com/CostLensHQ/CostLens/internal/pkg/env"
	"github.com/CostLensHQ/CostLens/internal/pkg/jobqueue"
	"github.com/CostLensHQ/CostLens/internal/pkg/router"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	app := NewApplication()

	manager := startLimitsWorker()
	defer manager.Stop()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	app := fiber.New(fiber.Config{
		BodyLimit: 1048576, // 1 MiB, JSON payloads only
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}

// startLimitsWorker drains deferred limits pushes in the background.
func startLimitsWorker() *jobqueue.Manager {
	queue := jobqueue.NewQueue(cache.GetClient(), "jobqueue:limits")
	manager := jobqueue.NewManager(queue)

	svc := billing.NewServiceFromDB(database.GetDB())
	manager.Register(jobqueue.JobTypeLimitsSync, func(ctx context.Context, job *jobqueue.Job) error {
		return svc.RetryLimitsSync(ctx, job)
	})
	manager.Start()
	return manager
}
