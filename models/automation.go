package models

import "gorm.io/gorm"

// Action types a rule may chain.
const (
	ActionCreateDeal       = "create_deal"
	ActionUpdateLeadStage  = "update_lead_stage"
	ActionEnrollCampaign   = "enroll_campaign"
	ActionMarkConversation = "mark_conversation"
)

// RuleAction is one step of a rule's ordered action chain. Params are
// action-specific and validated at execution time.
type RuleAction struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params"`
}

// AutomationRule matches incoming events to an action chain. One-shot
// rules fire at most once per entity for their lifetime; recurring rules
// fire at most once per entity per organization-local calendar day.
type AutomationRule struct {
	gorm.Model
	OrganizationID uint   `gorm:"not null;index" json:"organization_id"`
	Name           string `gorm:"not null" json:"name"`

	TriggerType       string                 `gorm:"not null;index" json:"trigger_type"`
	TriggerConditions map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"trigger_conditions"`
	Actions           []RuleAction           `gorm:"type:jsonb;serializer:json" json:"actions"`

	// No column default on IsActive: a default tag makes the ORM drop an
	// explicit false from the insert, silently reactivating the rule.
	IsActive  bool `gorm:"not null" json:"is_active"`
	Recurring bool `gorm:"not null" json:"recurring"`
}

// AutomationExecution is the claim ledger: one row per accepted cause.
// The composite unique index is the whole idempotency mechanism, so the
// insert that creates a row doubles as the admission check. One-shot
// claims carry an empty breach date, letting a single non-partial index
// cover both rule classes.
type AutomationExecution struct {
	gorm.Model
	RuleID         uint   `gorm:"not null;uniqueIndex:idx_execution_claim" json:"rule_id"`
	OrganizationID uint   `gorm:"not null;index" json:"organization_id"`
	EntityType     string `gorm:"not null;uniqueIndex:idx_execution_claim" json:"entity_type"`
	EntityID       uint   `gorm:"not null;uniqueIndex:idx_execution_claim" json:"entity_id"`
	BreachDate     string `gorm:"not null;default:'';uniqueIndex:idx_execution_claim" json:"breach_date"` // "" or YYYY-MM-DD

	TriggerEventID string `json:"trigger_event_id"`
	CorrelationID  string `gorm:"index" json:"correlation_id"`

	// DealID is set after the fact when the chain produced a deal.
	DealID *uint `json:"deal_id,omitempty"`
}
