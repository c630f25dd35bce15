package models

import (
	"time"

	"gorm.io/gorm"
)

// Entity type tags used in ledger and history rows.
const (
	EntityLead         = "lead"
	EntityDeal         = "deal"
	EntityConversation = "conversation"
	EntityContact      = "contact"
)

// Contact represents a person the organization talks to.
type Contact struct {
	gorm.Model
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`

	Email     string `gorm:"index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Phone     string `json:"phone"`
}

// Pipeline is an ordered set of stages leads and deals move through.
type Pipeline struct {
	gorm.Model
	OrganizationID uint   `gorm:"not null;index" json:"organization_id"`
	Name           string `gorm:"not null" json:"name"`

	// Relations
	Stages []Stage `gorm:"foreignKey:PipelineID" json:"stages,omitempty"`
}

// Stage is one column of a pipeline.
type Stage struct {
	gorm.Model
	PipelineID uint   `gorm:"not null;index" json:"pipeline_id"`
	Name       string `gorm:"not null" json:"name"`
	OrderIndex int    `gorm:"default:0" json:"order_index"`
}

// Lead represents a sales lead moving through a pipeline.
type Lead struct {
	gorm.Model
	OrganizationID uint  `gorm:"not null;index" json:"organization_id"`
	ContactID      *uint `gorm:"index" json:"contact_id"`

	Name       string `gorm:"not null" json:"name"`
	PipelineID uint   `gorm:"not null;index" json:"pipeline_id"`
	StageID    uint   `gorm:"not null;index" json:"stage_id"`

	// StageEnteredAt is reset on every stage move; the SLA detector scans it.
	StageEnteredAt time.Time `gorm:"not null" json:"stage_entered_at"`
}

// Deal represents revenue in progress, usually created from a lead.
type Deal struct {
	gorm.Model
	OrganizationID uint  `gorm:"not null;index" json:"organization_id"`
	LeadID         *uint `gorm:"index" json:"lead_id"`
	ContactID      *uint `gorm:"index" json:"contact_id"`

	Title      string `gorm:"not null" json:"title"`
	PipelineID uint   `gorm:"not null" json:"pipeline_id"`
	StageID    uint   `gorm:"not null" json:"stage_id"`
	Amount     int64  `gorm:"default:0" json:"amount"` // minor currency units
}

// Conversation tracks the messaging funnel with one contact. Milestones are
// recorded as timestamps rather than a single enum because they are not
// mutually exclusive: a conversation can be replied and later won.
type Conversation struct {
	gorm.Model
	OrganizationID uint    `gorm:"not null;index" json:"organization_id"`
	ContactID      uint    `gorm:"not null;index" json:"contact_id"`
	ChannelID      *string `json:"channel_id"`

	SentAt              *time.Time `json:"sent_at"`
	ReadAt              *time.Time `json:"read_at"`
	RepliedAt           *time.Time `json:"replied_at"`
	SharedChatCreatedAt *time.Time `json:"shared_chat_created_at"`
	WonAt               *time.Time `json:"won_at"`
	LostAt              *time.Time `json:"lost_at"`
}
