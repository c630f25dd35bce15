package automation

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nexcrm/models"
	"nexcrm/utils"
)

// CreateDealParams configures the create_deal action.
type CreateDealParams struct {
	PipelineID uint   `json:"pipeline_id" validate:"required"`
	StageID    uint   `json:"stage_id" validate:"required"`
	Title      string `json:"title"`
}

// CreateDealHandler creates a deal from the lead that triggered the rule.
type CreateDealHandler struct {
	DB     *gorm.DB
	Ledger *HistoryLedger
}

func (h *CreateDealHandler) Type() string { return models.ActionCreateDeal }

func (h *CreateDealHandler) Execute(ctx context.Context, ac ActionContext) (*ActionResult, error) {
	var params CreateDealParams
	if err := decodeParams(ac.Action.Params, &params); err != nil {
		return nil, err
	}

	// Re-read the lead: the event payload may be stale by now.
	var lead models.Lead
	if err := h.DB.WithContext(ctx).First(&lead, ac.EntityID).Error; err != nil {
		return nil, fmt.Errorf("failed to load lead %d: %w", ac.EntityID, err)
	}

	title := params.Title
	if title == "" {
		title = lead.Name
	}

	deal := models.Deal{
		OrganizationID: ac.Rule.OrganizationID,
		LeadID:         &lead.ID,
		ContactID:      lead.ContactID,
		Title:          title,
		PipelineID:     params.PipelineID,
		StageID:        params.StageID,
	}
	if err := h.DB.WithContext(ctx).Create(&deal).Error; err != nil {
		return nil, fmt.Errorf("failed to create deal: %w", err)
	}

	correlation := ac.Event.Correlation()
	entry := models.StageHistoryEntry{
		OrganizationID: ac.Rule.OrganizationID,
		EntityType:     models.EntityDeal,
		EntityID:       deal.ID,
		PipelineID:     params.PipelineID,
		ToStageID:      params.StageID,
		Source:         models.SourceAutomation,
		CorrelationID:  &correlation,
	}
	if err := h.Ledger.Append(ctx, &entry); err != nil {
		return nil, err
	}

	return &ActionResult{DealID: &deal.ID}, nil
}

// UpdateLeadStageParams configures the update_lead_stage action.
type UpdateLeadStageParams struct {
	StageID uint `json:"stage_id" validate:"required"`
}

// UpdateLeadStageHandler moves the triggering lead to another stage.
// Moving a lead that is already in the target stage is a no-op, which
// makes a retry after a crash between claim and effect harmless.
type UpdateLeadStageHandler struct {
	DB     *gorm.DB
	Ledger *HistoryLedger
}

func (h *UpdateLeadStageHandler) Type() string { return models.ActionUpdateLeadStage }

func (h *UpdateLeadStageHandler) Execute(ctx context.Context, ac ActionContext) (*ActionResult, error) {
	var params UpdateLeadStageParams
	if err := decodeParams(ac.Action.Params, &params); err != nil {
		return nil, err
	}

	var lead models.Lead
	if err := h.DB.WithContext(ctx).First(&lead, ac.EntityID).Error; err != nil {
		return nil, fmt.Errorf("failed to load lead %d: %w", ac.EntityID, err)
	}

	if lead.StageID == params.StageID {
		return &ActionResult{}, nil
	}

	fromStage := lead.StageID
	if err := h.DB.WithContext(ctx).Model(&lead).Updates(map[string]interface{}{
		"stage_id":         params.StageID,
		"stage_entered_at": time.Now().UTC(),
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to move lead %d: %w", lead.ID, err)
	}

	correlation := ac.Event.Correlation()
	entry := models.StageHistoryEntry{
		OrganizationID: ac.Rule.OrganizationID,
		EntityType:     models.EntityLead,
		EntityID:       lead.ID,
		PipelineID:     lead.PipelineID,
		FromStageID:    &fromStage,
		ToStageID:      params.StageID,
		Source:         models.SourceAutomation,
		CorrelationID:  &correlation,
	}
	if err := h.Ledger.Append(ctx, &entry); err != nil {
		return nil, err
	}

	return &ActionResult{}, nil
}

// EnrollCampaignParams configures the enroll_campaign action.
type EnrollCampaignParams struct {
	CampaignID uint `json:"campaign_id" validate:"required"`
}

// EnrollCampaignHandler enrolls the triggering entity's contact into a
// campaign. The unique (campaign, contact) index makes re-enrollment a
// silent no-op.
type EnrollCampaignHandler struct {
	DB *gorm.DB
}

func (h *EnrollCampaignHandler) Type() string { return models.ActionEnrollCampaign }

func (h *EnrollCampaignHandler) Execute(ctx context.Context, ac ActionContext) (*ActionResult, error) {
	var params EnrollCampaignParams
	if err := decodeParams(ac.Action.Params, &params); err != nil {
		return nil, err
	}

	contactID, err := h.resolveContact(ctx, ac)
	if err != nil {
		return nil, err
	}

	participant := models.CampaignParticipant{
		CampaignID: params.CampaignID,
		ContactID:  contactID,
		Status:     models.ParticipantPending,
		NextSendAt: utils.Pointer(time.Now().UTC()),
		Metadata:   map[string]interface{}{"enrolled_by": "automation", "correlation_id": ac.Event.Correlation()},
	}
	err = h.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "contact_id"}},
			DoNothing: true,
		}).
		Create(&participant).Error
	if err != nil {
		return nil, fmt.Errorf("failed to enroll contact %d: %w", contactID, err)
	}

	return &ActionResult{}, nil
}

func (h *EnrollCampaignHandler) resolveContact(ctx context.Context, ac ActionContext) (uint, error) {
	switch ac.EntityType {
	case models.EntityContact:
		return ac.EntityID, nil
	case models.EntityLead:
		var lead models.Lead
		if err := h.DB.WithContext(ctx).First(&lead, ac.EntityID).Error; err != nil {
			return 0, fmt.Errorf("failed to load lead %d: %w", ac.EntityID, err)
		}
		if lead.ContactID == nil {
			return 0, fmt.Errorf("lead %d has no contact to enroll", lead.ID)
		}
		return *lead.ContactID, nil
	case models.EntityConversation:
		var conv models.Conversation
		if err := h.DB.WithContext(ctx).First(&conv, ac.EntityID).Error; err != nil {
			return 0, fmt.Errorf("failed to load conversation %d: %w", ac.EntityID, err)
		}
		return conv.ContactID, nil
	}
	return 0, fmt.Errorf("cannot resolve contact for entity type %q", ac.EntityType)
}

// MarkConversationParams configures the mark_conversation action.
type MarkConversationParams struct {
	Milestone string `json:"milestone" validate:"required,oneof=won lost shared_chat"`
}

// MarkConversationHandler stamps a funnel milestone on the triggering
// conversation. Milestones are set-once timestamps, so replaying the
// action leaves the original moment intact.
type MarkConversationHandler struct {
	DB *gorm.DB
}

func (h *MarkConversationHandler) Type() string { return models.ActionMarkConversation }

func (h *MarkConversationHandler) Execute(ctx context.Context, ac ActionContext) (*ActionResult, error) {
	var params MarkConversationParams
	if err := decodeParams(ac.Action.Params, &params); err != nil {
		return nil, err
	}

	var conv models.Conversation
	if err := h.DB.WithContext(ctx).First(&conv, ac.EntityID).Error; err != nil {
		return nil, fmt.Errorf("failed to load conversation %d: %w", ac.EntityID, err)
	}

	now := time.Now().UTC()
	column := ""
	switch params.Milestone {
	case "won":
		if conv.WonAt == nil {
			column = "won_at"
		}
	case "lost":
		if conv.LostAt == nil {
			column = "lost_at"
		}
	case "shared_chat":
		if conv.SharedChatCreatedAt == nil {
			column = "shared_chat_created_at"
		}
	}
	if column == "" {
		return &ActionResult{}, nil
	}

	if err := h.DB.WithContext(ctx).Model(&conv).Update(column, now).Error; err != nil {
		return nil, fmt.Errorf("failed to mark conversation %d %s: %w", conv.ID, params.Milestone, err)
	}

	return &ActionResult{}, nil
}
