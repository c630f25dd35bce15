package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	"nexcrm/broker"
	controller "nexcrm/controllers"
)

// SetupRoutes registers the HTTP surface: the channel-signal webhook and
// campaign enrollment. Everything else (rule authoring, CRUD, auth) lives
// in the API service, not here.
func SetupRoutes(app *fiber.App, db *gorm.DB, publisher *broker.Publisher) {
	signalLogger := log.New(os.Stdout, "SIGNAL: ", log.Ldate|log.Ltime|log.Lshortfile)
	signalController := controller.NewSignalController(db, publisher, signalLogger)

	enrollLogger := log.New(os.Stdout, "ENROLL: ", log.Ldate|log.Ltime|log.Lshortfile)
	enrollmentController := controller.NewEnrollmentController(db, enrollLogger)

	webhooks := app.Group("/webhooks", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	webhooks.Post("/channel", signalController.HandleChannelSignal)

	campaigns := app.Group("/campaigns")
	campaigns.Post("/:id/participants", enrollmentController.EnrollParticipant)

	participants := app.Group("/participants")
	participants.Post("/:id/stop", signalController.StopParticipant)
}
