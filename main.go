package main

import (
	"context"
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"nexcrm/automation"
	"nexcrm/broker"
	"nexcrm/config"
	"nexcrm/dispatch"
	"nexcrm/middleware"
	"nexcrm/routes"
	"nexcrm/worker"
)

func main() {
	logger := log.New(os.Stdout, "NEXCRM: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Engine logger
	engineLog := logrus.New()
	engineLog.SetFormatter(&logrus.JSONFormatter{})
	if config.AppConfig.Environment == "development" {
		engineLog.SetLevel(logrus.DebugLevel)
	}

	// Action registry, resolved once at startup
	ledger := automation.NewHistoryLedger(config.DB)
	registry := automation.NewRegistry(
		&automation.CreateDealHandler{DB: config.DB, Ledger: ledger},
		&automation.UpdateLeadStageHandler{DB: config.DB, Ledger: ledger},
		&automation.EnrollCampaignHandler{DB: config.DB},
		&automation.MarkConversationHandler{DB: config.DB},
	)
	executor := automation.NewExecutor(config.DB, registry, engineLog)

	// Broker transport
	redisClient := broker.NewClient(config.AppConfig.Redis)
	publisher := broker.NewPublisher(redisClient, config.AppConfig.Redis.EventStream)

	hostname, _ := os.Hostname()
	consumer := broker.NewConsumer(redisClient,
		config.AppConfig.Redis.EventStream,
		config.AppConfig.Redis.ConsumerGroup,
		hostname)

	// Outreach dispatcher
	dispatcher := dispatch.NewSMTPDispatcher(
		config.AppConfig.SMTPHost,
		config.AppConfig.SMTPPort,
		config.AppConfig.SMTPUsername,
		config.AppConfig.SMTPPassword,
		config.AppConfig.FromEmail,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background workers
	eventWorker := worker.NewEventWorker(consumer, executor, log.New(os.Stdout, "EVENTS: ", log.LstdFlags))
	go eventWorker.Start(ctx)

	slaWorker := worker.NewSLAWorker(config.DB, executor, log.New(os.Stdout, "SLA: ", log.LstdFlags), config.AppConfig.SLASweepInterval)
	go slaWorker.Start(ctx)

	sequencerWorker := worker.NewSequencerWorker(config.DB, dispatcher, log.New(os.Stdout, "SEQUENCER: ", log.LstdFlags), config.AppConfig.SequencerInterval)
	go sequencerWorker.Start(ctx)

	// HTTP surface: health, channel signals, enrollment
	app := fiber.New()
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, config.DB, publisher)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
