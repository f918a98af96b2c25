package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"inboxwarm/config"
	"inboxwarm/middleware"
	"inboxwarm/routes"
	"inboxwarm/utils"
	"inboxwarm/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "INBOXWARM: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Error reporting
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Warmup manager with the real transport adapters
	manager := worker.NewManager(
		config.DB,
		utils.NewSMTPSender(),
		utils.NewIMAPListener(),
		utils.NewTemplateGenerator(),
		worker.OptionsFromConfig(config.AppConfig.Warmup),
	)

	// Setup routes
	routes.SetupRoutes(app, config.DB, manager)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Graceful shutdown: pause every live run so sessions resume where
	// they left off after a restart
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Println("Shutting down...")
		manager.Shutdown()
		if err := app.Shutdown(); err != nil {
			logger.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}

	if sqlDB, err := config.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Println("Server stopped")
}
