package models

import "gorm.io/gorm"

// Migrate creates or updates every table the engine touches. The composite
// unique indexes on AutomationExecution and CampaignSend are load-bearing:
// the claim protocol depends on the store rejecting duplicate inserts.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Organization{},
		&Contact{},
		&Pipeline{},
		&Stage{},
		&Lead{},
		&Deal{},
		&Conversation{},
		&AutomationRule{},
		&AutomationExecution{},
		&StageHistoryEntry{},
		&MessageTemplate{},
		&Campaign{},
		&CampaignSequenceStep{},
		&CampaignParticipant{},
		&CampaignSend{},
	)
}
