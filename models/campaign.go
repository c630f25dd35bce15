package models

import (
	"time"

	"gorm.io/gorm"
)

// Participant statuses. pending/sent/delivered keep advancing; replied,
// bounced, stopped and completed are terminal for the sequencer.
const (
	ParticipantPending   = "pending"
	ParticipantSent      = "sent"
	ParticipantDelivered = "delivered"
	ParticipantReplied   = "replied"
	ParticipantBounced   = "bounced"
	ParticipantStopped   = "stopped"
	ParticipantCompleted = "completed"
)

// Campaign represents an outreach campaign owned by an organization.
type Campaign struct {
	gorm.Model
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'draft'" json:"status"` // draft, active, paused, archived

	// Relations
	Steps        []CampaignSequenceStep `gorm:"foreignKey:CampaignID" json:"steps,omitempty"`
	Participants []CampaignParticipant  `gorm:"foreignKey:CampaignID" json:"participants,omitempty"`
}

// CampaignSequenceStep is one step in a campaign's ordered sequence.
// Immutable once the campaign is active.
type CampaignSequenceStep struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`
	TemplateID uint `gorm:"not null" json:"template_id"`

	OrderIndex   int `gorm:"not null" json:"order_index"`
	DelayHours   int `gorm:"default:0" json:"delay_hours"`
	DelayMinutes int `gorm:"default:0" json:"delay_minutes"`

	// Conditions are matched against the participant's accumulated metadata;
	// a failed condition skips the step (the sequencer still advances).
	Conditions map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"conditions"`

	// Relations
	Template MessageTemplate `json:"-"`
}

// Delay returns the wait before the step after this one becomes due.
func (s *CampaignSequenceStep) Delay() time.Duration {
	return time.Duration(s.DelayHours)*time.Hour + time.Duration(s.DelayMinutes)*time.Minute
}

// CampaignParticipant is one contact enrolled in one campaign, tracked
// independently through the sequence. Unique per (campaign, contact).
type CampaignParticipant struct {
	gorm.Model
	CampaignID uint `gorm:"not null;uniqueIndex:idx_campaign_contact" json:"campaign_id"`
	ContactID  uint `gorm:"not null;uniqueIndex:idx_campaign_contact" json:"contact_id"`

	ChannelAccountID *uint   `json:"channel_account_id"`
	ChannelID        *string `json:"channel_id"`

	Status      string     `gorm:"default:'pending';index" json:"status"`
	CurrentStep int        `gorm:"default:0" json:"current_step"`
	NextSendAt  *time.Time `gorm:"index" json:"next_send_at"`

	Metadata map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"metadata"`

	// Relations
	Campaign Campaign       `json:"-"`
	Contact  Contact        `json:"-"`
	Sends    []CampaignSend `gorm:"foreignKey:ParticipantID" json:"sends,omitempty"`
}

// Advancing reports whether the sequencer should still consider this
// participant for the next step.
func (p *CampaignParticipant) Advancing() bool {
	switch p.Status {
	case ParticipantPending, ParticipantSent, ParticipantDelivered:
		return true
	}
	return false
}

// CampaignSend is the append-only audit row for one attempted step
// execution. The unique (participant, step) index doubles as the
// sequencer's claim: two sweep workers can never double-send a step.
type CampaignSend struct {
	gorm.Model
	ParticipantID uint `gorm:"not null;uniqueIndex:idx_participant_step" json:"participant_id"`
	SequenceStep  int  `gorm:"not null;uniqueIndex:idx_participant_step" json:"sequence_step"`

	MessageID *string   `gorm:"index" json:"message_id"`
	SentAt    time.Time `gorm:"not null" json:"sent_at"`
	Status    string    `gorm:"default:'sent'" json:"status"` // sent, skipped, failed

	// Relations
	Participant CampaignParticipant `json:"-"`
}

// MessageTemplate holds the body a sequence step renders and sends.
type MessageTemplate struct {
	gorm.Model
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`

	Name    string `gorm:"not null" json:"name"`
	Subject string `json:"subject"`
	Body    string `gorm:"type:text" json:"body"`
}
