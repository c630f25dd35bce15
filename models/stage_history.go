package models

import "gorm.io/gorm"

// Sources of a stage transition.
const (
	SourceManual     = "manual"
	SourceSystem     = "system"
	SourceAutomation = "automation"
)

// StageHistoryEntry is one row of the append-only stage ledger. Rows are
// never updated or deleted; timelines are reconstructed by ordering on
// (entity, created_at). Automated transitions carry the correlation id of
// the event that caused them.
type StageHistoryEntry struct {
	gorm.Model
	OrganizationID uint   `gorm:"not null;index" json:"organization_id"`
	EntityType     string `gorm:"not null;index:idx_history_entity" json:"entity_type"`
	EntityID       uint   `gorm:"not null;index:idx_history_entity" json:"entity_id"`

	PipelineID  uint  `json:"pipeline_id"`
	FromStageID *uint `json:"from_stage_id,omitempty"` // nil on entity creation
	ToStageID   uint  `json:"to_stage_id"`

	Source        string  `gorm:"not null" json:"source"`
	CorrelationID *string `gorm:"index" json:"correlation_id,omitempty"`
}
