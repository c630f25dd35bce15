package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"nexcrm/dispatch"
	"nexcrm/models"
	"nexcrm/utils"
)

type sequencerFixture struct {
	org         models.Organization
	contact     models.Contact
	campaign    models.Campaign
	participant models.CampaignParticipant
	recorder    *dispatch.Recorder
	worker      *SequencerWorker
}

// seedSequencer sets up a two-step campaign (24h delay after step 0) with
// one due participant.
func seedSequencer(t *testing.T, db *gorm.DB) *sequencerFixture {
	t.Helper()

	org := models.Organization{Name: "Acme"}
	require.NoError(t, db.Create(&org).Error)

	contact := models.Contact{OrganizationID: org.ID, Email: "jo@example.com", FirstName: "Jo"}
	require.NoError(t, db.Create(&contact).Error)

	tmpl := models.MessageTemplate{
		OrganizationID: org.ID,
		Name:           "intro",
		Subject:        "Hi {{.FirstName}}",
		Body:           "<p>Hello {{.FirstName}}</p>",
	}
	require.NoError(t, db.Create(&tmpl).Error)

	campaign := models.Campaign{OrganizationID: org.ID, Name: "outreach", Status: "active"}
	require.NoError(t, db.Create(&campaign).Error)

	steps := []models.CampaignSequenceStep{
		{CampaignID: campaign.ID, TemplateID: tmpl.ID, OrderIndex: 0, DelayHours: 24},
		{CampaignID: campaign.ID, TemplateID: tmpl.ID, OrderIndex: 1, DelayHours: 48},
	}
	for i := range steps {
		require.NoError(t, db.Create(&steps[i]).Error)
	}

	participant := models.CampaignParticipant{
		CampaignID: campaign.ID,
		ContactID:  contact.ID,
		Status:     models.ParticipantPending,
		NextSendAt: utils.Pointer(time.Now().UTC().Add(-time.Minute)),
	}
	require.NoError(t, db.Create(&participant).Error)

	recorder := &dispatch.Recorder{}
	worker := NewSequencerWorker(db, recorder, discardLogger(), time.Minute)

	return &sequencerFixture{
		org:         org,
		contact:     contact,
		campaign:    campaign,
		participant: participant,
		recorder:    recorder,
		worker:      worker,
	}
}

func (fx *sequencerFixture) reload(t *testing.T, db *gorm.DB) models.CampaignParticipant {
	t.Helper()
	var p models.CampaignParticipant
	require.NoError(t, db.First(&p, fx.participant.ID).Error)
	return p
}

func TestSequencerSendsFirstStepAndSchedulesNext(t *testing.T) {
	db := newTestDB(t)
	fx := seedSequencer(t, db)
	ctx := context.Background()

	before := time.Now().UTC()
	fx.worker.RunSweep(ctx)

	sent := fx.recorder.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "jo@example.com", sent[0].To)
	assert.Equal(t, "Hi Jo", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "Hello Jo")

	p := fx.reload(t, db)
	assert.Equal(t, 1, p.CurrentStep)
	assert.Equal(t, models.ParticipantSent, p.Status)
	require.NotNil(t, p.NextSendAt)
	// Next due time is computed from the step that was just sent.
	assert.WithinDuration(t, before.Add(24*time.Hour), *p.NextSendAt, time.Minute)

	var sends []models.CampaignSend
	require.NoError(t, db.Find(&sends).Error)
	require.Len(t, sends, 1)
	assert.Equal(t, 0, sends[0].SequenceStep)
	assert.Equal(t, "sent", sends[0].Status)
	require.NotNil(t, sends[0].MessageID)
}

func TestSequencerDoesNotResendBeforeDue(t *testing.T) {
	db := newTestDB(t)
	fx := seedSequencer(t, db)
	ctx := context.Background()

	fx.worker.RunSweep(ctx)
	// Further sweeps arrive well before step 1's 24h delay has elapsed.
	fx.worker.RunSweep(ctx)
	fx.worker.RunSweep(ctx)

	assert.Len(t, fx.recorder.Sent(), 1)

	var count int64
	require.NoError(t, db.Model(&models.CampaignSend{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestSequencerAdvancesToSecondStepWhenDue(t *testing.T) {
	db := newTestDB(t)
	fx := seedSequencer(t, db)
	ctx := context.Background()

	fx.worker.RunSweep(ctx)

	// Fast-forward: the delay has elapsed.
	require.NoError(t, db.Model(&models.CampaignParticipant{}).Where("id = ?", fx.participant.ID).
		Update("next_send_at", time.Now().UTC().Add(-time.Second)).Error)

	fx.worker.RunSweep(ctx)

	assert.Len(t, fx.recorder.Sent(), 2)

	p := fx.reload(t, db)
	assert.Equal(t, 2, p.CurrentStep)
	// No step 2 exists, so the participant is done.
	assert.Equal(t, models.ParticipantCompleted, p.Status)
	assert.Nil(t, p.NextSendAt)

	var sends []models.CampaignSend
	require.NoError(t, db.Order("sequence_step").Find(&sends).Error)
	require.Len(t, sends, 2)
	assert.Equal(t, 0, sends[0].SequenceStep)
	assert.Equal(t, 1, sends[1].SequenceStep)
}

func TestSequencerStepClaimBlocksDoubleSend(t *testing.T) {
	db := newTestDB(t)
	fx := seedSequencer(t, db)
	ctx := context.Background()

	// A concurrent worker already claimed step 0 for this participant.
	require.NoError(t, db.Create(&models.CampaignSend{
		ParticipantID: fx.participant.ID,
		SequenceStep:  0,
		SentAt:        time.Now().UTC(),
		Status:        "sent",
	}).Error)

	fx.worker.RunSweep(ctx)

	assert.Empty(t, fx.recorder.Sent())

	p := fx.reload(t, db)
	assert.Equal(t, 0, p.CurrentStep, "the losing worker must not move the cursor")
}

func TestSequencerSkipsStepWhenConditionsFail(t *testing.T) {
	db := newTestDB(t)
	fx := seedSequencer(t, db)
	ctx := context.Background()

	// Step 0 only fires for participants that replied; this one has not.
	var step models.CampaignSequenceStep
	require.NoError(t, db.Where("campaign_id = ? AND order_index = 0", fx.campaign.ID).First(&step).Error)
	step.Conditions = map[string]interface{}{"replied": true}
	require.NoError(t, db.Save(&step).Error)

	fx.worker.RunSweep(ctx)

	// Nothing dispatched for step 0, but the cursor moved and the skip is
	// on the audit trail.
	assert.Empty(t, fx.recorder.Sent())

	p := fx.reload(t, db)
	assert.Equal(t, 1, p.CurrentStep)

	var send models.CampaignSend
	require.NoError(t, db.First(&send).Error)
	assert.Equal(t, "skipped", send.Status)

	// The following step is due immediately.
	fx.worker.RunSweep(ctx)
	assert.Len(t, fx.recorder.Sent(), 1)
}

func TestSequencerHaltsTerminalParticipants(t *testing.T) {
	db := newTestDB(t)
	fx := seedSequencer(t, db)
	ctx := context.Background()

	for _, status := range []string{
		models.ParticipantReplied,
		models.ParticipantBounced,
		models.ParticipantStopped,
	} {
		require.NoError(t, db.Model(&models.CampaignParticipant{}).
			Where("id = ?", fx.participant.ID).
			Updates(map[string]interface{}{
				"status":       status,
				"next_send_at": time.Now().UTC().Add(-time.Minute),
			}).Error)

		fx.worker.RunSweep(ctx)
		assert.Empty(t, fx.recorder.Sent(), "status %s must halt advancement", status)
	}
}

func TestSequencerDispatchFailureLeavesCursor(t *testing.T) {
	db := newTestDB(t)
	fx := seedSequencer(t, db)
	ctx := context.Background()

	fx.recorder.FailWith = errors.New("channel unavailable")
	fx.worker.RunSweep(ctx)

	p := fx.reload(t, db)
	assert.Equal(t, 0, p.CurrentStep)
	assert.Equal(t, models.ParticipantPending, p.Status)

	// The in-doubt claim row stays for the operational path.
	var send models.CampaignSend
	require.NoError(t, db.First(&send).Error)
	assert.Equal(t, "failed", send.Status)
}

func TestSequencerCurrentStepIsMonotonic(t *testing.T) {
	db := newTestDB(t)
	fx := seedSequencer(t, db)
	ctx := context.Background()

	last := 0
	for i := 0; i < 5; i++ {
		fx.worker.RunSweep(ctx)
		p := fx.reload(t, db)
		require.GreaterOrEqual(t, p.CurrentStep, last)
		last = p.CurrentStep

		require.NoError(t, db.Model(&models.CampaignParticipant{}).Where("id = ?", fx.participant.ID).
			Update("next_send_at", time.Now().UTC().Add(-time.Second)).Error)
	}
}
