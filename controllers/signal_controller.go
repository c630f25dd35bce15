package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"nexcrm/broker"
	"nexcrm/models"
	"nexcrm/utils"
)

// SignalController consumes asynchronous channel signals (delivered, read,
// replied, bounced) reported back by the outreach dispatcher. Signals feed
// the participant state machine and the conversation funnel; a reply also
// goes back onto the event stream so automation rules can react to it.
type SignalController struct {
	DB        *gorm.DB
	Publisher *broker.Publisher
	Logger    *log.Logger
}

func NewSignalController(db *gorm.DB, publisher *broker.Publisher, logger *log.Logger) *SignalController {
	return &SignalController{
		DB:        db,
		Publisher: publisher,
		Logger:    logger,
	}
}

// HandleChannelSignal processes one delivery/read/reply/bounce signal.
func (sc *SignalController) HandleChannelSignal(c *fiber.Ctx) error {
	var input struct {
		EventType string `json:"event_type"` // delivered, read, replied, bounced
		MessageID string `json:"message_id"`
		Timestamp int64  `json:"timestamp"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	var send models.CampaignSend
	if err := sc.DB.Where("message_id = ?", input.MessageID).First(&send).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Send not found", nil)
	}

	var participant models.CampaignParticipant
	if err := sc.DB.First(&participant, send.ParticipantID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Participant not found", nil)
	}

	at := time.Now().UTC()
	if input.Timestamp > 0 {
		at = time.Unix(input.Timestamp, 0).UTC()
	}

	switch input.EventType {
	case "delivered":
		if participant.Status == models.ParticipantSent {
			if err := sc.DB.Model(&participant).Update("status", models.ParticipantDelivered).Error; err != nil {
				return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update participant", err)
			}
		}
	case "read":
		sc.markFunnel(participant.ContactID, "read_at", at)
		if err := sc.mergeMetadata(&participant, "read", true); err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update participant metadata", err)
		}
	case "replied":
		// Terminal for advancement: the campaign stops sending further
		// steps to this participant.
		if participant.Advancing() {
			updates := map[string]interface{}{
				"status":       models.ParticipantReplied,
				"next_send_at": nil,
			}
			if err := sc.DB.Model(&participant).Updates(updates).Error; err != nil {
				return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update participant", err)
			}
		}
		sc.markFunnel(participant.ContactID, "replied_at", at)
		if err := sc.mergeMetadata(&participant, "replied", true); err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update participant metadata", err)
		}
		sc.publishReply(c, participant, input.MessageID, at)
	case "bounced":
		if participant.Advancing() {
			updates := map[string]interface{}{
				"status":       models.ParticipantBounced,
				"next_send_at": nil,
			}
			if err := sc.DB.Model(&participant).Updates(updates).Error; err != nil {
				return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update participant", err)
			}
		}
	default:
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown event type", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"participant_id": participant.ID}))
}

// StopParticipant is the administrative stop: terminal, no further sends.
func (sc *SignalController) StopParticipant(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))

	var participant models.CampaignParticipant
	if err := sc.DB.First(&participant, id).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Participant not found", nil)
	}

	if !participant.Advancing() {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Participant is not active", nil)
	}

	err := sc.DB.Model(&participant).Updates(map[string]interface{}{
		"status":       models.ParticipantStopped,
		"next_send_at": nil,
	}).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to stop participant", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"participant_id": participant.ID}))
}

// markFunnel stamps a set-once milestone on the contact's conversation.
func (sc *SignalController) markFunnel(contactID uint, column string, at time.Time) {
	err := sc.DB.Model(&models.Conversation{}).
		Where("contact_id = ? AND "+column+" IS NULL", contactID).
		Update(column, at).Error
	if err != nil {
		sc.Logger.Printf("Failed to mark conversation %s for contact %d: %v", column, contactID, err)
	}
}

// mergeMetadata folds a signal into the participant's accumulated metadata
// so later sequence-step conditions can match on it. The update goes through
// a struct so the field serializer encodes the map; a raw column update
// would hand the driver a bare map and fail.
func (sc *SignalController) mergeMetadata(p *models.CampaignParticipant, key string, value interface{}) error {
	if p.Metadata == nil {
		p.Metadata = map[string]interface{}{}
	}
	p.Metadata[key] = value
	return sc.DB.Model(p).Updates(models.CampaignParticipant{Metadata: p.Metadata}).Error
}

// publishReply turns an inbound reply into a message.received event so the
// rule engine sees it like any other domain event.
func (sc *SignalController) publishReply(c *fiber.Ctx, p models.CampaignParticipant, messageID string, at time.Time) {
	if sc.Publisher == nil {
		return
	}

	var campaign models.Campaign
	if err := sc.DB.First(&campaign, p.CampaignID).Error; err != nil {
		sc.Logger.Printf("Failed to load campaign %d: %v", p.CampaignID, err)
		return
	}

	event := models.NewEvent(models.EventMessageReceived, campaign.OrganizationID, map[string]interface{}{
		"contact_id":     p.ContactID,
		"campaign_id":    p.CampaignID,
		"participant_id": p.ID,
		"message_id":     messageID,
		"received_at":    at.Unix(),
	})
	if _, err := sc.Publisher.Publish(c.Context(), event); err != nil {
		sc.Logger.Printf("Failed to publish reply event: %v", err)
	}
}
