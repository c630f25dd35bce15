package controller

import (
	"log"
	"time"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nexcrm/models"
	"nexcrm/utils"
)

// EnrollmentController creates campaign participants. Enrollment is the
// only write the API layer performs against the sequencer's tables; the
// cursor fields afterwards belong to the sequencer and the signal path.
type EnrollmentController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewEnrollmentController(db *gorm.DB, logger *log.Logger) *EnrollmentController {
	return &EnrollmentController{
		DB:     db,
		Logger: logger,
	}
}

// EnrollParticipant enrolls a contact into a campaign.
func (ec *EnrollmentController) EnrollParticipant(c *fiber.Ctx) error {
	campaignID := utils.ParseUint(c.Params("id"))

	var input struct {
		ContactID uint `json:"contact_id"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if input.ContactID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "contact_id is required", nil)
	}

	var campaign models.Campaign
	if err := ec.DB.First(&campaign, campaignID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}

	var contact models.Contact
	if err := ec.DB.First(&contact, input.ContactID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
	}
	if contact.OrganizationID != campaign.OrganizationID {
		return utils.ErrorResponse(c, fiber.StatusForbidden, "Contact belongs to another organization", nil)
	}

	if contact.Email != "" {
		if err := checkmail.ValidateFormat(contact.Email); err != nil {
			return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Contact email is invalid", err)
		}
	}

	participant := models.CampaignParticipant{
		CampaignID: campaign.ID,
		ContactID:  contact.ID,
		Status:     models.ParticipantPending,
		NextSendAt: utils.Pointer(time.Now().UTC()),
		Metadata:   map[string]interface{}{"enrolled_by": "api"},
	}
	result := ec.DB.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "contact_id"}},
			DoNothing: true,
		}).
		Create(&participant)
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to enroll contact", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Contact is already enrolled", nil)
	}

	// Open the conversation funnel row for this contact if none exists.
	conversation := models.Conversation{
		OrganizationID: campaign.OrganizationID,
		ContactID:      contact.ID,
	}
	if err := ec.DB.Where("organization_id = ? AND contact_id = ?", campaign.OrganizationID, contact.ID).
		FirstOrCreate(&conversation).Error; err != nil {
		ec.Logger.Printf("Failed to open conversation for contact %d: %v", contact.ID, err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(participant))
}
