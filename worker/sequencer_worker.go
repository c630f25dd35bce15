package worker

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nexcrm/automation"
	"nexcrm/dispatch"
	"nexcrm/models"
	"nexcrm/utils"
)

// SequencerWorker advances enrolled participants through their campaign's
// ordered steps on a delay schedule. It is not driven by the broker: it
// runs on its own timer, and any number of replicas may sweep at once.
// Mutual exclusion per (participant, step) comes from the unique index on
// campaign_sends — the same store-enforced claim discipline the automation
// ledger uses, with a different key.
type SequencerWorker struct {
	DB         *gorm.DB
	Dispatcher dispatch.Dispatcher
	Logger     *log.Logger
	Interval   time.Duration
	BatchSize  int
}

func NewSequencerWorker(db *gorm.DB, dispatcher dispatch.Dispatcher, logger *log.Logger, interval time.Duration) *SequencerWorker {
	return &SequencerWorker{
		DB:         db,
		Dispatcher: dispatcher,
		Logger:     logger,
		Interval:   interval,
		BatchSize:  200,
	}
}

func (sq *SequencerWorker) Start(ctx context.Context) {
	sq.Logger.Println("Sequencer worker started")

	ticker := time.NewTicker(sq.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sq.Logger.Println("Sequencer worker shutting down...")
			return
		case <-ticker.C:
			sq.RunSweep(ctx)
		}
	}
}

// RunSweep advances every participant that is due.
func (sq *SequencerWorker) RunSweep(ctx context.Context) {
	now := time.Now().UTC()

	var participants []models.CampaignParticipant
	err := sq.DB.WithContext(ctx).
		Where("status IN ? AND next_send_at IS NOT NULL AND next_send_at <= ?",
			[]string{models.ParticipantPending, models.ParticipantSent, models.ParticipantDelivered}, now).
		Limit(sq.BatchSize).
		Find(&participants).Error
	if err != nil {
		sq.Logger.Printf("Error fetching due participants: %v", err)
		return
	}

	for _, p := range participants {
		if err := sq.Advance(ctx, &p); err != nil {
			sq.Logger.Printf("Error advancing participant %d: %v", p.ID, err)
		}
	}
}

// Advance executes the participant's next step: claim, evaluate the step's
// conditions, send or skip, and move the cursor. The claim insert decides
// the winner before any message leaves, so a second sweep worker racing on
// the same participant sees AlreadyClaimed and backs off.
func (sq *SequencerWorker) Advance(ctx context.Context, p *models.CampaignParticipant) error {
	var steps []models.CampaignSequenceStep
	err := sq.DB.WithContext(ctx).
		Where("campaign_id = ?", p.CampaignID).
		Order("order_index").
		Find(&steps).Error
	if err != nil {
		return fmt.Errorf("failed to load steps: %w", err)
	}

	if p.CurrentStep >= len(steps) {
		return sq.complete(ctx, p)
	}
	step := steps[p.CurrentStep]

	// Conditions are evaluated before claiming so a skip lands in the
	// claim row with its final status. Only a real dispatch needs the
	// pending-then-finalize dance.
	skip := !automation.ConditionsMatch(step.Conditions, p.Metadata)

	now := time.Now().UTC()
	send := models.CampaignSend{
		ParticipantID: p.ID,
		SequenceStep:  p.CurrentStep,
		SentAt:        now,
		Status:        "pending",
	}
	if skip {
		send.Status = "skipped"
	}
	result := sq.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "participant_id"}, {Name: "sequence_step"}},
			DoNothing: true,
		}).
		Create(&send)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Another worker owns this step.
		return nil
	}

	if skip {
		// Skip policy: a failed condition burns the step and advances the
		// cursor immediately, so the participant is never reprocessed into
		// the same mismatch forever.
		return sq.moveCursor(ctx, p, len(steps), now, 0, "")
	}

	messageID, err := sq.send(ctx, p, step)
	if err != nil {
		// The claim row stays as the in-doubt marker for the operational
		// retry path; the cursor does not move.
		if uerr := sq.DB.WithContext(ctx).Model(&send).Update("status", "failed").Error; uerr != nil {
			sq.Logger.Printf("Failed to mark send %d failed: %v", send.ID, uerr)
		}
		return fmt.Errorf("dispatch failed for participant %d step %d: %w", p.ID, p.CurrentStep, err)
	}

	if err := sq.DB.WithContext(ctx).Model(&send).Updates(map[string]interface{}{
		"status":     "sent",
		"message_id": messageID,
	}).Error; err != nil {
		return err
	}

	sq.markConversationSent(ctx, p, now)

	return sq.moveCursor(ctx, p, len(steps), now, step.Delay(), models.ParticipantSent)
}

// moveCursor advances current_step by one. The next due time is computed
// from the step that was just handled, never from evaluation time, so
// re-running the sweep early cannot send again.
func (sq *SequencerWorker) moveCursor(ctx context.Context, p *models.CampaignParticipant, totalSteps int, handledAt time.Time, delay time.Duration, statusOnSend string) error {
	next := p.CurrentStep + 1

	updates := map[string]interface{}{
		"current_step": next,
	}
	if statusOnSend != "" && p.Status == models.ParticipantPending {
		updates["status"] = statusOnSend
	}
	if next >= totalSteps {
		updates["status"] = models.ParticipantCompleted
		updates["next_send_at"] = nil
	} else if delay > 0 {
		updates["next_send_at"] = handledAt.Add(delay)
	} else {
		// Skipped step: the following step is due right away.
		updates["next_send_at"] = handledAt
	}

	return sq.DB.WithContext(ctx).Model(p).Updates(updates).Error
}

func (sq *SequencerWorker) complete(ctx context.Context, p *models.CampaignParticipant) error {
	return sq.DB.WithContext(ctx).Model(p).Updates(map[string]interface{}{
		"status":       models.ParticipantCompleted,
		"next_send_at": nil,
	}).Error
}

// send renders the step's template against the contact and dispatches it.
func (sq *SequencerWorker) send(ctx context.Context, p *models.CampaignParticipant, step models.CampaignSequenceStep) (string, error) {
	var tmpl models.MessageTemplate
	if err := sq.DB.WithContext(ctx).First(&tmpl, step.TemplateID).Error; err != nil {
		return "", fmt.Errorf("failed to load template %d: %w", step.TemplateID, err)
	}

	var contact models.Contact
	if err := sq.DB.WithContext(ctx).First(&contact, p.ContactID).Error; err != nil {
		return "", fmt.Errorf("failed to load contact %d: %w", p.ContactID, err)
	}

	body, err := renderTemplate(tmpl.Body, contact)
	if err != nil {
		return "", err
	}
	subject, err := renderTemplate(tmpl.Subject, contact)
	if err != nil {
		return "", err
	}

	return sq.Dispatcher.Send(ctx, dispatch.OutboundMessage{
		ParticipantID: p.ID,
		ContactID:     contact.ID,
		To:            contact.Email,
		Subject:       subject,
		Body:          body,
	})
}

// markConversationSent stamps the funnel's first milestone.
func (sq *SequencerWorker) markConversationSent(ctx context.Context, p *models.CampaignParticipant, at time.Time) {
	err := sq.DB.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("contact_id = ? AND sent_at IS NULL", p.ContactID).
		Update("sent_at", utils.Pointer(at)).Error
	if err != nil {
		sq.Logger.Printf("Failed to mark conversation sent for contact %d: %v", p.ContactID, err)
	}
}

func renderTemplate(text string, contact models.Contact) (string, error) {
	tmpl, err := template.New("message").Parse(text)
	if err != nil {
		return "", fmt.Errorf("bad template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, contact); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return buf.String(), nil
}
