package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	controller "inboxwarm/controllers"
	"inboxwarm/middleware"
	"inboxwarm/worker"
)

// SetupRoutes wires the account and warm-up control surface onto the app.
func SetupRoutes(app *fiber.App, db *gorm.DB, manager *worker.Manager) {
	warmupLogger := log.New(os.Stdout, "WARMUP: ", log.Ldate|log.Ltime|log.Lshortfile)
	warmupController := controller.NewWarmupController(manager, db, warmupLogger)

	requestLog := logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	})

	// Account routes
	accounts := app.Group("/accounts", middleware.Protected(), requestLog)

	domains := accounts.Group("/domains")
	domains.Post("/", controller.CreateDomainAccount)
	domains.Get("/", controller.ListDomainAccounts)
	domains.Get("/:id", controller.GetDomainAccount)
	domains.Put("/:id", controller.UpdateDomainAccount)
	domains.Delete("/:id", controller.DeleteDomainAccount)
	domains.Post("/:id/verify", controller.VerifyDomainAccount)

	leads := accounts.Group("/leads")
	leads.Post("/", controller.CreateLeadAccount)
	leads.Get("/", controller.ListLeadAccounts)
	leads.Get("/:id", controller.GetLeadAccount)
	leads.Put("/:id", controller.UpdateLeadAccount)
	leads.Delete("/:id", controller.DeleteLeadAccount)

	// Warmup control routes, rate limited since start/stop touch real
	// mail servers
	warmup := app.Group("/warmup", middleware.Protected(), requestLog)
	warmup.Post("/start", middleware.WarmupStartRateLimiter(), warmupController.StartWarmup)
	warmup.Post("/pause", warmupController.PauseWarmup)
	warmup.Post("/resume", warmupController.ResumeWarmup)
	warmup.Post("/stop", warmupController.StopWarmup)
	warmup.Get("/status/:domainAccountID", warmupController.WarmupStatus)
	warmup.Get("/sessions", warmupController.ListSessions)
	warmup.Get("/sessions/:id/logs", warmupController.SessionLogs)
	warmup.Get("/logs", warmupController.RecentLogs)

	// Live progress stream
	warmup.Use("/progress", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	warmup.Get("/progress", websocket.New(controller.HandleWarmupProgressWS(manager)))

	warmupLogger.Println("Routes initialized successfully")
}
