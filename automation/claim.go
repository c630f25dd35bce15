package automation

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nexcrm/models"
)

// ClaimRequest identifies one logical cause: a rule firing for an entity,
// optionally scoped to an organization-local calendar day.
type ClaimRequest struct {
	RuleID         uint
	OrganizationID uint
	EntityType     string
	EntityID       uint

	// BreachDate is "" for one-shot rules and "YYYY-MM-DD" for recurring
	// ones, so the same unique index serves both claim classes.
	BreachDate string

	TriggerEventID string
	CorrelationID  string
}

// ClaimStore is the sole admission-control gate for automated side effects.
// A claim is an atomic insert against the ledger's unique index: whichever
// worker's insert lands first wins, every other worker sees AlreadyClaimed.
// The database enforces this, not application code, so it holds across
// processes.
type ClaimStore struct {
	DB *gorm.DB
}

func NewClaimStore(db *gorm.DB) *ClaimStore {
	return &ClaimStore{DB: db}
}

// Claim attempts to claim the cause. It returns (true, row) when this
// caller won, and (false, nil) when the cause was already claimed —
// the expected outcome of duplicate delivery, never an error.
func (s *ClaimStore) Claim(ctx context.Context, req ClaimRequest) (bool, *models.AutomationExecution, error) {
	execution := models.AutomationExecution{
		RuleID:         req.RuleID,
		OrganizationID: req.OrganizationID,
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		BreachDate:     req.BreachDate,
		TriggerEventID: req.TriggerEventID,
		CorrelationID:  req.CorrelationID,
	}

	result := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "rule_id"},
				{Name: "entity_type"},
				{Name: "entity_id"},
				{Name: "breach_date"},
			},
			DoNothing: true,
		}).
		Create(&execution)
	if result.Error != nil {
		return false, nil, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil, nil
	}
	return true, &execution, nil
}

// AttachDeal records the deal a claimed execution produced, for reporting
// joins. The claim key itself is never touched.
func (s *ClaimStore) AttachDeal(ctx context.Context, executionID, dealID uint) error {
	return s.DB.WithContext(ctx).
		Model(&models.AutomationExecution{}).
		Where("id = ?", executionID).
		Update("deal_id", dealID).Error
}
