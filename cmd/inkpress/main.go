package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/inkpress/inkpress/app/controllers"
	"github.com/inkpress/inkpress/internal/pkg/billing"
	"github.com/inkpress/inkpress/internal/pkg/cache"
	"github.com/inkpress/inkpress/internal/pkg/database"
	"github.com/inkpress/inkpress/internal/pkg/env"
	"github.com/inkpress/inkpress/internal/pkg/jobqueue"
	"github.com/inkpress/inkpress/internal/pkg/router"
)

func main() {
	app := NewApplication()

	manager := jobqueue.GetManager()
	manager.Start()

	// Graceful shutdown: drain workers before the listener dies.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		manager.Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// Billing engine: one service instance shared by the webhook
	// controller and the job queue.
	prices := billing.DefaultPriceTable()
	service := billing.NewService(billing.ServiceConfig{
		Repository: billing.NewRepository(database.GetDB()),
		Gateways: []billing.Gateway{
			billing.NewStripeGatewayFromEnv(),
			billing.NewPayPalGatewayFromEnv(),
			billing.NewPaystackGatewayFromEnv(prices),
		},
		Prices:     prices,
		SuccessURL: env.GetEnv("CHECKOUT_SUCCESS_URL", "https://inkpress.example/billing/success"),
		CancelURL:  env.GetEnv("CHECKOUT_CANCEL_URL", "https://inkpress.example/billing/cancel"),
		ReturnURL:  env.GetEnv("PORTAL_RETURN_URL", "https://inkpress.example/account"),
	})

	manager := jobqueue.GetManager()
	manager.GetQueue().SetEventRetrier(service)
	service.SetParker(manager)
	service.SetNotifier(manager)
	controllers.SetBillingService(service)

	// Find the correct base path
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/inkpress to project root
		"../../../", // Fallback
	}

	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}

	if basePath == "" {
		panic("Could not find project root directory")
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20, // webhook payloads are small
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app
}
